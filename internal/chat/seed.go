package chat

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/echoroom/internal/common"
	"github.com/suPer8Hu/echoroom/internal/identity"
	"github.com/suPer8Hu/echoroom/internal/models"
)

type roomDef struct {
	Slug        string
	Name        string
	Description string
}

var defaultRooms = []roomDef{
	{Slug: "general", Name: "General", Description: "General discussion and hanging out."},
	{Slug: "tech-talk", Name: "Tech Talk", Description: "Technology and programming."},
	{Slug: "random", Name: "Random", Description: "Off-topic chat."},
	{Slug: "gaming", Name: "Gaming", Description: "Video games and board games."},
	{Slug: "music", Name: "Music", Description: "Tunes and artists."},
}

// SeedRooms creates the default rooms that do not exist yet.
func SeedRooms(ctx context.Context, repo *Repo) error {
	for _, def := range defaultRooms {
		id, err := common.NewULID()
		if err != nil {
			return err
		}
		room := &Room{ID: id, Slug: def.Slug, Name: def.Name, Description: def.Description}
		if err := repo.EnsureRoom(ctx, room); err != nil {
			return fmt.Errorf("seed room %s: %w", def.Slug, err)
		}
	}
	return nil
}

var demoUsers = []models.User{
	{Email: "ada@demo.local", DisplayName: "ada"},
	{Email: "linus@demo.local", DisplayName: "linus"},
	{Email: "grace@demo.local", DisplayName: "grace"},
	{Email: "ken@demo.local", DisplayName: "ken"},
}

type demoLine struct {
	user   int
	parent int // index into the thread, -1 for a root message
	ago    time.Duration
	text   string
}

var demoThread = []demoLine{
	{user: 0, parent: -1, ago: 60 * time.Minute, text: "Morning all. Anyone tried the new release yet?"},
	{user: 1, parent: 0, ago: 55 * time.Minute, text: "Upgraded last night, nothing broke so far."},
	{user: 0, parent: 1, ago: 50 * time.Minute, text: "Good to hear, I will roll it out on staging today."},
	{user: 2, parent: -1, ago: 45 * time.Minute, text: "Reminder: retro is moved to Thursday."},
	{user: 3, parent: 3, ago: 40 * time.Minute, text: "Noted, thanks."},
	{user: 1, parent: -1, ago: 20 * time.Minute, text: "Lunch spot suggestions welcome."},
}

// DemoSeeder fills an empty room with a short threaded conversation posted
// by demo accounts. The demo accounts cannot log in.
type DemoSeeder struct {
	db *gorm.DB
}

func NewDemoSeeder(db *gorm.DB) *DemoSeeder {
	return &DemoSeeder{db: db}
}

func (d *DemoSeeder) Seed(ctx context.Context, roomID string, poster Poster) error {
	users, err := d.ensureUsers(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	ids := make([]string, len(demoThread))
	for i, line := range demoThread {
		u := users[line.user]
		req := AppendRequest{
			RoomID:    roomID,
			Sender:    identity.Identity{UserID: u.ID, Label: u.DisplayName},
			Text:      line.text,
			CreatedAt: now.Add(-line.ago),
		}
		if line.parent >= 0 {
			req.ParentID = ids[line.parent]
		}
		m, err := poster.Append(ctx, req)
		if err != nil {
			return fmt.Errorf("seed message %d: %w", i, err)
		}
		ids[i] = m.ID
	}
	return nil
}

func (d *DemoSeeder) ensureUsers(ctx context.Context) ([]models.User, error) {
	out := make([]models.User, 0, len(demoUsers))
	for _, du := range demoUsers {
		u := du
		// not a bcrypt hash, so CheckPassword always fails
		u.PasswordHash = "!"
		if err := d.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}).
			Create(&u).Error; err != nil {
			return nil, fmt.Errorf("ensure demo user %s: %w", du.Email, err)
		}
		var stored models.User
		if err := d.db.WithContext(ctx).Where("email = ?", du.Email).First(&stored).Error; err != nil {
			return nil, fmt.Errorf("load demo user %s: %w", du.Email, err)
		}
		out = append(out, stored)
	}
	return out, nil
}
