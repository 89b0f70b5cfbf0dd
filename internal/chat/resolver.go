package chat

import (
	"context"
	"strings"

	"github.com/suPer8Hu/echoroom/internal/common"
)

// Resolver maps a room reference (canonical id or slug alias) to a room.
type Resolver struct {
	repo *Repo
}

func NewResolver(repo *Repo) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve returns the canonical room for ref or ErrRoomNotFound.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*Room, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrRoomNotFound
	}

	if common.IsULID(ref) {
		room, err := r.repo.GetRoomByID(ctx, ref)
		if err == nil {
			return room, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}

	room, err := r.repo.GetRoomBySlug(ctx, strings.ToLower(ref))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return room, nil
}

// ResolveID is Resolve returning only the canonical id.
func (r *Resolver) ResolveID(ctx context.Context, ref string) (string, error) {
	room, err := r.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	return room.ID, nil
}

func (r *Resolver) IsMember(ctx context.Context, roomID string, userID uint64) (bool, error) {
	return r.repo.IsMember(ctx, roomID, userID)
}
