package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/suPer8Hu/echoroom/internal/identity"
	"github.com/suPer8Hu/echoroom/internal/logging"
	"github.com/suPer8Hu/echoroom/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:chat_" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&models.User{}, &Room{}, &RoomMember{}, &Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type fakeSub struct {
	id string

	mu     sync.Mutex
	events []Event
}

func newFakeSub(id string) *fakeSub { return &fakeSub{id: id} }

func (f *fakeSub) ID() string { return f.id }

func (f *fakeSub) Send(ev Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return true
}

func (f *fakeSub) ofType(typ string) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, ev := range f.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type testEnv struct {
	db    *gorm.DB
	repo  *Repo
	seq   *Allocator
	hub   *Hub
	svc   *Service
	room  *Room
	alice *identity.Identity
	bob   *identity.Identity
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	if err := SeedRooms(ctx, repo); err != nil {
		t.Fatalf("seed rooms: %v", err)
	}
	room, err := repo.GetRoomBySlug(ctx, "general")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}

	seq := NewAllocator()
	if err := seq.Bootstrap(ctx, repo); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	hub := NewHub()
	opts.Logger = logging.Nop()
	svc := NewService(repo, NewResolver(repo), seq, hub, opts)

	return &testEnv{
		db:    db,
		repo:  repo,
		seq:   seq,
		hub:   hub,
		svc:   svc,
		room:  room,
		alice: &identity.Identity{UserID: 1, Label: "alice"},
		bob:   &identity.Identity{UserID: 2, Label: "bob"},
	}
}

func (e *testEnv) send(t *testing.T, who *identity.Identity, text string) *Message {
	t.Helper()
	res, err := e.svc.SendMessage(context.Background(), who, SendRequest{RoomRef: e.room.ID, Text: text})
	if err != nil {
		t.Fatalf("send %q: %v", text, err)
	}
	return res.Message
}

func TestSendMessage_AssignsDenseSequence(t *testing.T) {
	env := newTestEnv(t, Options{})

	for i := 1; i <= 3; i++ {
		m := env.send(t, env.alice, "hello")
		if m.Seq != int64(i) {
			t.Fatalf("message %d got seq %d", i, m.Seq)
		}
		if m.ID == "" || m.SenderLabel != "alice" {
			t.Fatalf("unexpected message: %+v", m)
		}
	}

	n, err := env.repo.CountMessages(context.Background(), env.room.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 stored messages, got %d", n)
	}
}

func TestSendMessage_AcceptsSlugAlias(t *testing.T) {
	env := newTestEnv(t, Options{})

	res, err := env.svc.SendMessage(context.Background(), env.alice, SendRequest{RoomRef: "General", Text: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Message.RoomID != env.room.ID {
		t.Fatalf("alias resolved to %q, want %q", res.Message.RoomID, env.room.ID)
	}
}

func TestSendMessage_Rejections(t *testing.T) {
	env := newTestEnv(t, Options{MaxTextLength: 10})
	ctx := context.Background()

	cases := []struct {
		name   string
		sender *identity.Identity
		req    SendRequest
		want   error
	}{
		{"anonymous", nil, SendRequest{RoomRef: env.room.ID, Text: "hi"}, ErrNotAuthenticated},
		{"unknown room", env.alice, SendRequest{RoomRef: "nowhere", Text: "hi"}, ErrRoomNotFound},
		{"empty text", env.alice, SendRequest{RoomRef: env.room.ID, Text: "   "}, ErrValidation},
		{"too long", env.alice, SendRequest{RoomRef: env.room.ID, Text: strings.Repeat("x", 11)}, ErrValidation},
		{"missing parent", env.alice, SendRequest{RoomRef: env.room.ID, Text: "hi", ParentID: "01HZZZZZZZZZZZZZZZZZZZZZZZ"}, ErrParentNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.SendMessage(ctx, tc.sender, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}

	if cur := env.seq.Current(env.room.ID); cur != 0 {
		t.Fatalf("rejected sends must not consume sequence numbers, counter at %d", cur)
	}
}

func TestSendMessage_ParentMustBeInSameRoom(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	other, err := env.repo.GetRoomBySlug(ctx, "random")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	res, err := env.svc.SendMessage(ctx, env.alice, SendRequest{RoomRef: other.ID, Text: "elsewhere"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	_, err = env.svc.SendMessage(ctx, env.bob, SendRequest{RoomRef: env.room.ID, Text: "reply", ParentID: res.Message.ID})
	if !errors.Is(err, ErrParentNotFound) {
		t.Fatalf("expected ErrParentNotFound, got %v", err)
	}
}

func TestSendMessage_ReplyIncrementsParent(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	root := env.send(t, env.alice, "root")
	for i := 0; i < 2; i++ {
		res, err := env.svc.SendMessage(ctx, env.bob, SendRequest{RoomRef: env.room.ID, Text: "reply", ParentID: root.ID})
		if err != nil {
			t.Fatalf("reply: %v", err)
		}
		if res.Message.ParentID == nil || *res.Message.ParentID != root.ID {
			t.Fatalf("reply not linked to parent: %+v", res.Message)
		}
	}

	stored, err := env.repo.GetMessage(ctx, root.ID)
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}
	if stored.ReplyCount != 2 {
		t.Fatalf("expected reply count 2, got %d", stored.ReplyCount)
	}
}

func TestSendMessage_DuplicateCorrelationIsAcknowledgedOnce(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	sub := newFakeSub("watcher")
	env.hub.Subscribe(sub, env.room.ID)

	req := SendRequest{RoomRef: env.room.ID, Text: "once", CorrelationID: "c-1"}
	first, err := env.svc.SendMessage(ctx, env.alice, req)
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	second, err := env.svc.SendMessage(ctx, env.alice, req)
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if !second.Duplicate || second.Message.ID != first.Message.ID || second.Message.Seq != first.Message.Seq {
		t.Fatalf("resend should return the stored message, got %+v", second)
	}
	if got := len(sub.ofType(EventMessageNew)); got != 1 {
		t.Fatalf("expected one broadcast, got %d", got)
	}

	// same correlation id from another sender is a different message
	other, err := env.svc.SendMessage(ctx, env.bob, req)
	if err != nil {
		t.Fatalf("other sender: %v", err)
	}
	if other.Duplicate || other.Message.Seq != 2 {
		t.Fatalf("unexpected result for other sender: %+v", other)
	}
}

func TestSendMessage_NotBootstrapped(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.svc.seq = NewAllocator()

	_, err := env.svc.SendMessage(context.Background(), env.alice, SendRequest{RoomRef: env.room.ID, Text: "hi"})
	if !errors.Is(err, ErrNotBootstrapped) {
		t.Fatalf("expected ErrNotBootstrapped, got %v", err)
	}
	n, _ := env.repo.CountMessages(context.Background(), env.room.ID)
	if n != 0 {
		t.Fatalf("nothing should be stored, found %d", n)
	}
}

func TestSendMessage_ConcurrentSendersGetUniqueDenseSeqs(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	sub := newFakeSub("watcher")
	env.hub.Subscribe(sub, env.room.ID)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := env.alice
			if i%2 == 0 {
				who = env.bob
			}
			if _, err := env.svc.SendMessage(ctx, who, SendRequest{RoomRef: env.room.ID, Text: "burst"}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("send: %v", err)
	}

	msgs, err := env.repo.ListMessagesAfterSeq(ctx, env.room.ID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != n {
		t.Fatalf("expected %d messages, got %d", n, len(msgs))
	}
	for i, m := range msgs {
		if m.Seq != int64(i+1) {
			t.Fatalf("position %d has seq %d", i, m.Seq)
		}
	}

	// fan-out order matches sequence order
	events := sub.ofType(EventMessageNew)
	if len(events) != n {
		t.Fatalf("expected %d broadcasts, got %d", n, len(events))
	}
	for i, ev := range events {
		if got := ev.Data.(NewMessagePayload).Seq; got != int64(i+1) {
			t.Fatalf("broadcast %d carried seq %d", i, got)
		}
	}
}

func TestSequence_ContinuesAfterRestart(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env.send(t, env.alice, "before restart")
	}

	restarted := NewAllocator()
	if err := restarted.Bootstrap(ctx, env.repo); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	svc := NewService(env.repo, NewResolver(env.repo), restarted, NewHub(), Options{Logger: logging.Nop()})

	res, err := svc.SendMessage(ctx, env.alice, SendRequest{RoomRef: env.room.ID, Text: "after restart"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Message.Seq != 4 {
		t.Fatalf("expected seq 4 after restart, got %d", res.Message.Seq)
	}
}

func TestJoin_SendsBacklogAndPresence(t *testing.T) {
	env := newTestEnv(t, Options{BacklogSize: 2})
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		env.send(t, env.alice, text)
	}

	first := newFakeSub("c1")
	roomID, err := env.svc.Join(ctx, first, env.alice, "general")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if roomID != env.room.ID {
		t.Fatalf("join returned %q", roomID)
	}

	joined := first.ofType(EventRoomJoined)
	if len(joined) != 1 {
		t.Fatalf("expected one room.joined, got %d", len(joined))
	}
	backlog := joined[0].Data.(JoinedPayload).Backlog
	if len(backlog) != 2 || backlog[0].Text != "two" || backlog[1].Text != "three" {
		t.Fatalf("unexpected backlog: %+v", backlog)
	}

	second := newFakeSub("c2")
	if _, err := env.svc.Join(ctx, second, env.bob, env.room.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	presence := first.ofType(EventRoomPresence)
	if last := presence[len(presence)-1].Data.(PresencePayload); last.Count != 2 {
		t.Fatalf("expected presence 2, got %d", last.Count)
	}

	ok, err := env.repo.IsMember(ctx, env.room.ID, env.bob.UserID)
	if err != nil || !ok {
		t.Fatalf("join should record membership, ok=%v err=%v", ok, err)
	}

	if _, err := env.svc.Join(ctx, newFakeSub("c3"), nil, env.room.ID); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("anonymous join: got %v", err)
	}
}

func TestLeaveAndDisconnect_UpdatePresence(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	a, b := newFakeSub("a"), newFakeSub("b")
	for _, j := range []struct {
		sub *fakeSub
		who *identity.Identity
	}{{a, env.alice}, {b, env.bob}} {
		if _, err := env.svc.Join(ctx, j.sub, j.who, env.room.ID); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	if _, err := env.svc.Leave(ctx, b, "general"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if len(b.ofType(EventRoomLeft)) != 1 {
		t.Fatalf("leaver should receive room.left")
	}
	presence := a.ofType(EventRoomPresence)
	if got := presence[len(presence)-1].Data.(PresencePayload).Count; got != 1 {
		t.Fatalf("expected presence 1 after leave, got %d", got)
	}

	// b no longer receives room messages
	env.send(t, env.alice, "after leave")
	if len(b.ofType(EventMessageNew)) != 0 {
		t.Fatalf("left connection received a message")
	}

	env.svc.Disconnect(a)
	if env.hub.Count(env.room.ID) != 0 {
		t.Fatalf("disconnect should drop all subscriptions")
	}
}

func TestTyping_ExcludesSender(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	a, b := newFakeSub("a"), newFakeSub("b")
	env.hub.Subscribe(a, env.room.ID)
	env.hub.Subscribe(b, env.room.ID)

	if err := env.svc.Typing(ctx, a, env.alice, env.room.ID, true); err != nil {
		t.Fatalf("typing: %v", err)
	}
	if len(a.ofType(EventTypingUpdate)) != 0 {
		t.Fatalf("sender received its own typing event")
	}
	got := b.ofType(EventTypingUpdate)
	if len(got) != 1 || !got[0].Data.(TypingPayload).IsTyping || got[0].Data.(TypingPayload).UserID != "1" {
		t.Fatalf("unexpected typing events: %+v", got)
	}
}

func TestHistory_PagesBackwards(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	var msgs []*Message
	for i := 0; i < 5; i++ {
		msgs = append(msgs, env.send(t, env.alice, "m"))
	}

	page, err := env.svc.History(ctx, env.room.ID, "", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page) != 2 || page[0].Seq != 4 || page[1].Seq != 5 {
		t.Fatalf("unexpected newest page: %+v", page)
	}

	page, err = env.svc.History(ctx, "general", msgs[3].ID, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page) != 2 || page[0].Seq != 2 || page[1].Seq != 3 {
		t.Fatalf("unexpected older page: %+v", page)
	}
}

func TestJoin_SeedsEmptyRoomOnce(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.svc.seeder = NewDemoSeeder(env.db)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := env.svc.Join(ctx, newFakeSub("c"), env.alice, env.room.ID); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	msgs, err := env.repo.ListMessagesAfterSeq(ctx, env.room.ID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != len(demoThread) {
		t.Fatalf("expected %d seeded messages, got %d", len(demoThread), len(msgs))
	}
	for i, m := range msgs {
		if m.Seq != int64(i+1) {
			t.Fatalf("seeded message %d has seq %d", i, m.Seq)
		}
	}
	if msgs[0].ReplyCount != 1 {
		t.Fatalf("seeded root should have one reply, got %d", msgs[0].ReplyCount)
	}

	// a new message continues after the seeded ones
	if m := env.send(t, env.bob, "live"); m.Seq != int64(len(demoThread)+1) {
		t.Fatalf("live message got seq %d", m.Seq)
	}
}

func TestSendMessage_PersistenceFailureLeavesGap(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	watcher := newFakeSub("watcher")
	env.hub.Subscribe(watcher, env.room.ID)

	env.send(t, env.alice, "first")

	if err := env.db.Migrator().RenameTable("chat_messages", "chat_messages_offline"); err != nil {
		t.Fatalf("rename table: %v", err)
	}
	_, err := env.svc.SendMessage(ctx, env.alice, SendRequest{RoomRef: env.room.ID, Text: "lost"})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if got := len(watcher.ofType(EventMessageNew)); got != 1 {
		t.Fatalf("failed write must not be broadcast, saw %d message.new events", got)
	}

	if err := env.db.Migrator().RenameTable("chat_messages_offline", "chat_messages"); err != nil {
		t.Fatalf("restore table: %v", err)
	}
	if m := env.send(t, env.alice, "after"); m.Seq != 3 {
		t.Fatalf("consumed seq must not be reused, got %d", m.Seq)
	}

	msgs, err := env.repo.ListMessagesAfterSeq(ctx, env.room.ID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Seq != 1 || msgs[1].Seq != 3 {
		t.Fatalf("expected stored seqs [1 3], got %+v", msgs)
	}
	if got := len(watcher.ofType(EventMessageNew)); got != 2 {
		t.Fatalf("expected 2 broadcasts, got %d", got)
	}
}

func TestJoin_RacingSendsSeeEveryMessageOnce(t *testing.T) {
	env := newTestEnv(t, Options{BacklogSize: 100})
	ctx := context.Background()

	const n = 40
	joiner := newFakeSub("joiner")
	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, n+1)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := env.svc.SendMessage(ctx, env.alice, SendRequest{RoomRef: env.room.ID, Text: "race"}); err != nil {
				errs <- err
			}
		}()
		if i == n/2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if _, err := env.svc.Join(ctx, joiner, env.bob, env.room.ID); err != nil {
					errs <- err
				}
			}()
		}
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("race: %v", err)
	}

	joined := joiner.ofType(EventRoomJoined)
	if len(joined) != 1 {
		t.Fatalf("expected one room.joined, got %d", len(joined))
	}
	var seqs []int64
	for _, m := range joined[0].Data.(JoinedPayload).Backlog {
		seqs = append(seqs, m.Seq)
	}
	for _, ev := range joiner.ofType(EventMessageNew) {
		seqs = append(seqs, ev.Data.(NewMessagePayload).Seq)
	}
	if len(seqs) != n {
		t.Fatalf("expected %d messages across backlog and live events, got %d: %v", n, len(seqs), seqs)
	}
	for i, seq := range seqs {
		if seq != int64(i+1) {
			t.Fatalf("position %d carried seq %d: %v", i, seq, seqs)
		}
	}
}

func TestTyping_IgnoredWhenNotSubscribed(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	outsider, member := newFakeSub("outsider"), newFakeSub("member")
	env.hub.Subscribe(member, env.room.ID)

	if err := env.svc.Typing(ctx, outsider, env.alice, env.room.ID, true); err != nil {
		t.Fatalf("typing: %v", err)
	}
	if got := member.ofType(EventTypingUpdate); len(got) != 0 {
		t.Fatalf("typing from an unsubscribed connection was relayed: %+v", got)
	}
}

// memCache is an in-memory BacklogCache whose writes can be made to fail.
type memCache struct {
	mu   sync.Mutex
	warm map[string][]Message
	hits int

	failAppend     bool
	failInvalidate bool
}

func newMemCache() *memCache { return &memCache{warm: map[string][]Message{}} }

func (c *memCache) Recent(_ context.Context, roomID string, limit int) ([]Message, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, ok := c.warm[roomID]
	if !ok {
		return nil, false, nil
	}
	c.hits++
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]Message(nil), msgs...), true, nil
}

func (c *memCache) Fill(_ context.Context, roomID string, msgs []Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warm[roomID] = append([]Message(nil), msgs...)
	return nil
}

func (c *memCache) Append(_ context.Context, m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAppend {
		return errors.New("cache write refused")
	}
	if msgs, ok := c.warm[m.RoomID]; ok {
		c.warm[m.RoomID] = append(msgs, m)
	}
	return nil
}

func (c *memCache) Replace(context.Context, Message) error { return nil }

func (c *memCache) Invalidate(_ context.Context, roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failInvalidate {
		return errors.New("cache unreachable")
	}
	delete(c.warm, roomID)
	return nil
}

func (c *memCache) setFailing(failing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failAppend = failing
	c.failInvalidate = failing
}

func TestBacklog_BypassesCacheThatCouldNotBeInvalidated(t *testing.T) {
	cache := newMemCache()
	env := newTestEnv(t, Options{Cache: cache})
	ctx := context.Background()

	env.send(t, env.alice, "one")
	if msgs, err := env.svc.Backlog(ctx, env.room.ID); err != nil || len(msgs) != 1 {
		t.Fatalf("warm backlog: %d msgs, err %v", len(msgs), err)
	}

	cache.setFailing(true)
	env.send(t, env.alice, "two")

	msgs, err := env.svc.Backlog(ctx, env.room.ID)
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Text != "two" {
		t.Fatalf("backlog served the holed cache: %+v", msgs)
	}

	cache.setFailing(false)
	env.send(t, env.alice, "three")

	msgs, err = env.svc.Backlog(ctx, env.room.ID)
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if len(msgs) != 3 || msgs[0].Seq != 1 || msgs[2].Seq != 3 {
		t.Fatalf("unexpected backlog after recovery: %+v", msgs)
	}

	// the refilled cache serves reads again
	before := cache.hits
	msgs, err = env.svc.Backlog(ctx, env.room.ID)
	if err != nil || len(msgs) != 3 {
		t.Fatalf("cached backlog: %d msgs, err %v", len(msgs), err)
	}
	if cache.hits != before+1 {
		t.Fatalf("expected a cache hit after recovery")
	}
}
