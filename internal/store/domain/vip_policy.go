package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
)

// VIP policy validation errors.
var (
	ErrEmptyParticipant = errors.New("participant email cannot be empty")
	ErrInvalidWeight    = errors.New("priority weight must be in [0, 10]")
)

// VipConditions gate when a VIP's meetings are allowed.
type VipConditions struct {
	AllowAfterHours bool `json:"allow_after_hours"`
	MinNoticeHours  int  `json:"min_notice_hours"`
}

// VipPolicy grants a participant elevated scheduling priority. The
// participant is stored only as a hash of the normalized email; the raw
// address never persists.
type VipPolicy struct {
	ID              shared.ID     `json:"id"`
	UserID          shared.ID     `json:"user_id"`
	ParticipantHash string        `json:"participant_hash"`
	DisplayName     string        `json:"display_name"`
	PriorityWeight  float64       `json:"priority_weight"`
	Conditions      VipConditions `json:"conditions"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// HashParticipant normalizes an email (trim, lowercase) and returns its
// SHA-256 hex digest.
func HashParticipant(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// NewVipPolicy creates a policy from a raw participant email.
func NewVipPolicy(userID shared.ID, email, displayName string, weight float64, conditions VipConditions) (*VipPolicy, error) {
	if userID.IsZero() {
		return nil, ErrEmptyUserID
	}
	if strings.TrimSpace(email) == "" {
		return nil, ErrEmptyParticipant
	}
	if weight < 0 || weight > 10 {
		return nil, ErrInvalidWeight
	}

	now := time.Now().UTC()
	return &VipPolicy{
		ID:              shared.NewID(shared.PrefixVipPolicy),
		UserID:          userID,
		ParticipantHash: HashParticipant(email),
		DisplayName:     displayName,
		PriorityWeight:  weight,
		Conditions:      conditions,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Matches reports whether the policy covers the given attendee email.
func (p *VipPolicy) Matches(email string) bool {
	return p.ParticipantHash == HashParticipant(email)
}
