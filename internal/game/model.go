package game

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for an unknown user id.
	ErrNotFound = errors.New("game: player not found")
	// ErrInsufficientGold is returned when a debit would leave gold negative.
	ErrInsufficientGold = errors.New("game: insufficient gold")
	// ErrOutOfRange is returned when HP or MP would leave [0, max].
	ErrOutOfRange = errors.New("game: vitals out of range")
	// ErrSkinNotOwned is returned when equipping a skin the player lacks.
	ErrSkinNotOwned = errors.New("game: skin not owned")
)

// Starting values for a new player.
const (
	StartingGold  = 100
	StartingMaxHP = 100
	StartingMaxMP = 50
	DefaultSkin   = "default"
)

// Stats are a player's vitals.
type Stats struct {
	HP    int `json:"hp"`
	MP    int `json:"mp"`
	MaxHP int `json:"maxHp"`
	MaxMP int `json:"maxMp"`
}

// Profile is everything the server returns about one player.
type Profile struct {
	UserID       int64    `json:"userId"`
	Username     string   `json:"username"`
	Gold         int64    `json:"gold"`
	Stats        Stats    `json:"stats"`
	Skins        []string `json:"skins"`
	EquippedSkin string   `json:"equippedSkin"`
}

// Store persists player state.
type Store interface {
	// FindOrCreate returns the player named username, creating it with
	// starting values on first sight.
	FindOrCreate(ctx context.Context, username string) (*Profile, error)
	Profile(ctx context.Context, userID int64) (*Profile, error)
	// AdjustGold adds delta to the player's gold and returns the new balance.
	AdjustGold(ctx context.Context, userID, delta int64) (int64, error)
	// AdjustVitals adds the deltas to HP and MP and returns the new stats.
	AdjustVitals(ctx context.Context, userID int64, hpDelta, mpDelta int) (Stats, error)
	EquipSkin(ctx context.Context, userID int64, skin string) error
	GrantSkin(ctx context.Context, userID int64, skin string) error
	Close() error
}

func newProfile(userID int64, username string) *Profile {
	return &Profile{
		UserID:   userID,
		Username: username,
		Gold:     StartingGold,
		Stats: Stats{
			HP:    StartingMaxHP,
			MP:    StartingMaxMP,
			MaxHP: StartingMaxHP,
			MaxMP: StartingMaxMP,
		},
		Skins:        []string{DefaultSkin},
		EquippedSkin: DefaultSkin,
	}
}

func applyGold(balance, delta int64) (int64, error) {
	next := balance + delta
	if next < 0 {
		return balance, fmt.Errorf("%w: balance %d, delta %d", ErrInsufficientGold, balance, delta)
	}
	return next, nil
}

func applyVitals(s Stats, hpDelta, mpDelta int) (Stats, error) {
	hp, mp := s.HP+hpDelta, s.MP+mpDelta
	if hp < 0 || hp > s.MaxHP {
		return s, fmt.Errorf("%w: hp %d not in [0, %d]", ErrOutOfRange, hp, s.MaxHP)
	}
	if mp < 0 || mp > s.MaxMP {
		return s, fmt.Errorf("%w: mp %d not in [0, %d]", ErrOutOfRange, mp, s.MaxMP)
	}
	s.HP, s.MP = hp, mp
	return s, nil
}

func owns(skins []string, skin string) bool {
	for _, s := range skins {
		if s == skin {
			return true
		}
	}
	return false
}
