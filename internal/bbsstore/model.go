// Package bbsstore implements the persistent, transactional object graph
// behind the BBS: users, bulletins, messages, objects, jobs and config,
// backed by an embedded SQLite database with single-writer transaction
// semantics.
package bbsstore

import "time"

// Field length limits enforced on write.
const (
	MaxBioLen      = 4000
	MaxStatusLen   = 300
	MaxLocationLen = 1000
	MaxSocialLen   = 300
	MaxNameLen     = 300
)

// SystemCallsign is the reserved, permanently hidden/disabled/blacklisted
// user identity.
const SystemCallsign = "SYSTEM"

// User is keyed by uppercase base callsign (no SSID).
type User struct {
	Callsign  string // map key, uppercase
	UUID      string // assigned once, never changes
	Enabled   bool
	Hidden    bool
	CreatedAt time.Time
	LastSeen  time.Time
	Bio       string
	Status    string
	Email     string
	Location  string
	Socials   []string
	ObjectIDs []string // owned object uuids
}

// Bulletin has a dense, monotonically increasing, never-reused id.
type Bulletin struct {
	ID        int64
	Author    string
	Subject   string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Attachment is a value object owned by a Message.
type Attachment struct {
	Name   string
	Binary bool
	Data   []byte
	Size   int64
}

// Message is private mail identified by a globally unique uuid.
type Message struct {
	UUID       string
	MailboxOf  string // whose mailbox this copy lives in
	SentAt     time.Time
	Text       string
	Recipients []string // uppercase callsigns, or sentinel "ALL"
	Sender     string
	Retrieved  bool
	Delivered  bool
	Attachments []Attachment
}

// RecipientAll is the broadcast-to-everyone sentinel recipient.
const RecipientAll = "ALL"

// Object is user content, owned by a single user via uuid back-reference.
type Object struct {
	UUID       string
	Name       string
	Data       []byte
	Binary     bool
	Private    bool
	Owner      string // owner's user uuid
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// JobStatus is the job lifecycle state enum.
type JobStatus string

const (
	JobCreated    JobStatus = "CREATED"
	JobQueued     JobStatus = "QUEUED"
	JobStarting   JobStatus = "STARTING"
	JobRunning    JobStatus = "RUNNING"
	JobStopping   JobStatus = "STOPPING"
	JobSuccessful JobStatus = "SUCCESSFUL"
	JobFailed     JobStatus = "FAILED"
	JobTimedOut   JobStatus = "TIMED_OUT"
)

// IsTerminal reports whether s is one of the job-finished states.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobSuccessful, JobFailed, JobTimedOut:
		return true
	default:
		return false
	}
}

// InputFile is one file injected into a job's container.
type InputFile struct {
	Name      string
	Data      []byte
	RootOwned bool
}

// Job is indexed by a dense, never-reused id from job_counter.
type Job struct {
	ID         int64
	Owner      string // owner's base callsign
	Command    []string // single-element slice for a plain string command
	Env        map[string]string
	Files      []InputFile
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Status     JobStatus
	ReturnCode int
	Stdout     []byte
	Stderr     []byte
	Artifact   []byte // gzipped tar
}

// HttpUser is the HTTP-façade account, distinct from User.
type HttpUser struct {
	Username      string // uppercase
	PasswordHash  string // argon2
	HTTPEnabled   bool
	CreatedAt     time.Time
	LastLogin     time.Time
	FailedAttempts int
}

// JobsConfig selects the runner backend and its pool sizing policy.
type JobsConfig struct {
	Runner            string // e.g. "docker"
	Image             string
	MaxActiveJobs     int
	ContainerKeepalive time.Duration
	DefaultTimeout    time.Duration
	MaxTimeout        time.Duration
	NamePrefix        string
}

// Config is the mutable server configuration mapping.
type Config struct {
	MOTD            string
	Operator        string
	Blacklist       []string
	JobsEnabled     bool
	JobsConfig      JobsConfig
	ServerCallsign  string
	ServerName      string
}
