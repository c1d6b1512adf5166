// Package models defines the core data structures for the connection hub.
//
// This file contains the durable entities owned by the Store: User,
// PairingToken, Channel, Session, Message, Task and Job. Field names use the
// snake_case convention for db tags and camelCase for json tags, matching the
// rest of this package.
package models

import "time"

// User is a registered account. Registration and login are handled by the
// out-of-scope REST CRUD router; the hub only ever reads a user's id once a
// bearer token or pairing token has already resolved it.
type User struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	DisplayName  string    `json:"displayName" db:"display_name"`
	AuthProvider string    `json:"authProvider" db:"auth_provider"`
	FirebaseUID  string    `json:"firebaseUid,omitempty" db:"firebase_uid"`
	SettingsJSON string    `json:"-" db:"settings_json"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// PairingToken lets a plugin authenticate as a user without an interactive
// login. A token is valid iff RevokedAt is nil; revocation is soft-delete
// only, the audit fields (LastConnectedAt, LastIP, ConnectionCount) are never
// erased.
type PairingToken struct {
	ID                string     `json:"id" db:"id"`
	UserID            string     `json:"userId" db:"user_id"`
	TokenHash         string     `json:"-" db:"token"`
	Label             string     `json:"label" db:"label"`
	CreatedAt         time.Time  `json:"createdAt" db:"created_at"`
	RevokedAt         *time.Time `json:"revokedAt,omitempty" db:"revoked_at"`
	LastConnectedAt   *time.Time `json:"lastConnectedAt,omitempty" db:"last_connected_at"`
	LastIP            string     `json:"lastIp,omitempty" db:"last_ip"`
	ConnectionCount   int        `json:"connectionCount" db:"connection_count"`
}

// Valid reports whether the token has not been revoked.
func (p *PairingToken) Valid() bool {
	return p.RevokedAt == nil
}

// Channel groups sessions and tasks for a user and optionally names the
// plugin's agent registry entry that should handle it.
type Channel struct {
	ID              string `json:"id" db:"id"`
	UserID          string `json:"userId" db:"user_id"`
	Name            string `json:"name" db:"name"`
	Description     string `json:"description,omitempty" db:"description"`
	OpenclawAgentID string `json:"openclawAgentId,omitempty" db:"openclaw_agent_id"`
}

// Session is a conversation the plugin and clients refer to by SessionKey,
// a globally-unique-per-user identifier the plugin echoes back verbatim.
type Session struct {
	ID         string `json:"id" db:"id"`
	ChannelID  string `json:"channelId" db:"channel_id"`
	Name       string `json:"name" db:"name"`
	SessionKey string `json:"sessionKey" db:"session_key"`
}

// Sender identifies who produced a Message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// Message is one chat turn, possibly ciphertext. ThreadID, when set, must
// reference an existing message in the same base session; such messages are
// stored under the synthetic key "{baseKey}:thread:{ThreadID}".
type Message struct {
	ID         string    `json:"id" db:"id"`
	SessionKey string    `json:"sessionKey" db:"session_key"`
	Sender     Sender    `json:"sender" db:"sender"`
	Text       string    `json:"text" db:"text"`
	MediaURL   string    `json:"mediaUrl,omitempty" db:"media_url"`
	A2UI       string    `json:"a2ui,omitempty" db:"a2ui"`
	ThreadID   string    `json:"threadId,omitempty" db:"thread_id"`
	Encrypted  bool      `json:"encrypted" db:"encrypted"`
	Timestamp  int64     `json:"timestamp" db:"timestamp"`
}

// ThreadKey returns the synthetic session key messages in a reply thread are
// stored under.
func ThreadKey(baseKey, msgID string) string {
	return baseKey + ":thread:" + msgID
}

// TaskKind distinguishes one-off runs from recurring background tasks.
type TaskKind string

const (
	TaskAdhoc      TaskKind = "adhoc"
	TaskBackground TaskKind = "background"
)

// Task is metadata only; schedule, instructions and model selection for
// background tasks live in the plugin, not here.
type Task struct {
	ID                string    `json:"id" db:"id"`
	ChannelID         string    `json:"channelId" db:"channel_id"`
	Kind              TaskKind  `json:"kind" db:"kind"`
	Name              string    `json:"name" db:"name"`
	OpenclawCronJobID string    `json:"openclawCronJobId,omitempty" db:"openclaw_cron_job_id"`
	SessionKey        string    `json:"sessionKey,omitempty" db:"session_key"`
	Enabled           bool      `json:"enabled" db:"enabled"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time `json:"updatedAt" db:"updated_at"`
}

// JobStatus is the lifecycle state of a Job. Any of Ok, Error, Skipped is
// terminal and write-once.
type JobStatus string

const (
	JobRunning JobStatus = "running"
	JobOk      JobStatus = "ok"
	JobError   JobStatus = "error"
	JobSkipped JobStatus = "skipped"
)

// IsTerminal reports whether s is a terminal job status.
func (s JobStatus) IsTerminal() bool {
	return s == JobOk || s == JobError || s == JobSkipped
}

// Job is one run of a background Task. Summary may grow monotonically while
// Status is running; once terminal it is frozen.
type Job struct {
	ID         string     `json:"id" db:"id"`
	TaskID     string     `json:"taskId" db:"task_id"`
	UserID     string     `json:"userId" db:"user_id"`
	SessionKey string     `json:"sessionKey" db:"session_key"`
	Status     JobStatus  `json:"status" db:"status"`
	StartedAt  int64      `json:"startedAt" db:"started_at"`
	FinishedAt *int64     `json:"finishedAt,omitempty" db:"finished_at"`
	DurationMs *int64     `json:"durationMs,omitempty" db:"duration_ms"`
	Summary    string     `json:"summary" db:"summary"`
}
