package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// TargetScope selects which feed a sync run writes to and dedups against.
type TargetScope string

const (
	ScopeUser    TargetScope = "user"    // one user, personal feed
	ScopeChannel TargetScope = "channel" // one user, one channel feed
	ScopeAll     TargetScope = "all"     // every user with a refresh token, personal feeds
	ScopeInbox   TargetScope = "inbox"   // global feed without an owner
)

// SyncTarget is the scope of one orchestration run.
type SyncTarget struct {
	Scope     TargetScope `json:"scope"`
	UserID    uuid.UUID   `json:"user_id,omitempty"`
	ChannelID uuid.UUID   `json:"channel_id,omitempty"`
}

func UserTarget(userID uuid.UUID) SyncTarget {
	return SyncTarget{Scope: ScopeUser, UserID: userID}
}

func ChannelTarget(ownerID, channelID uuid.UUID) SyncTarget {
	return SyncTarget{Scope: ScopeChannel, UserID: ownerID, ChannelID: channelID}
}

func InboxTarget() SyncTarget {
	return SyncTarget{Scope: ScopeInbox}
}

func AllUsersTarget() SyncTarget {
	return SyncTarget{Scope: ScopeAll}
}

func (t SyncTarget) String() string {
	switch t.Scope {
	case ScopeUser:
		return fmt.Sprintf("user:%s", t.UserID)
	case ScopeChannel:
		return fmt.Sprintf("channel:%s", t.ChannelID)
	default:
		return string(t.Scope)
	}
}

// Validate rejects targets that cannot address a feed.
func (t SyncTarget) Validate() error {
	switch t.Scope {
	case ScopeUser:
		if t.UserID == uuid.Nil {
			return fmt.Errorf("user target requires a user id")
		}
	case ScopeChannel:
		if t.ChannelID == uuid.Nil {
			return fmt.Errorf("channel target requires a channel id")
		}
	case ScopeInbox, ScopeAll:
	default:
		return fmt.Errorf("unknown target scope %q", t.Scope)
	}
	return nil
}

// ItemError is one recorded failure of a run, keyed by message or user id.
type ItemError struct {
	Item   string `json:"item"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// SyncReport summarizes one run.
type SyncReport struct {
	Target     SyncTarget  `json:"target"`
	Found      int         `json:"found"`
	Confirmed  int         `json:"confirmed"`
	NewCount   int         `json:"new_count"`
	SavedCount int         `json:"saved_count"`
	Duplicates int         `json:"duplicates"`
	Errors     []ItemError `json:"errors,omitempty"`
}

func (r *SyncReport) AddError(item, code, reason string) {
	r.Errors = append(r.Errors, ItemError{Item: item, Code: code, Reason: reason})
}

// FirstError returns the first recorded failure, if any.
func (r *SyncReport) FirstError() *ItemError {
	if len(r.Errors) == 0 {
		return nil
	}
	return &r.Errors[0]
}

// UserReport is the batch entry for one user.
type UserReport struct {
	UserID uuid.UUID  `json:"user_id"`
	Email  string     `json:"email"`
	Report SyncReport `json:"report"`
	Error  *ItemError `json:"error,omitempty"`
}

// BatchReport aggregates a run over all eligible users.
type BatchReport struct {
	Users       []UserReport `json:"results"`
	TotalSynced int          `json:"total_synced"`
}

// Errors flattens the per-user failures.
func (b *BatchReport) Errors() []ItemError {
	var out []ItemError
	for _, u := range b.Users {
		if u.Error != nil {
			out = append(out, *u.Error)
		}
	}
	return out
}
