package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"

	"eco-counselor/internal/helper"
)

var (
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// Conversation is one logged query/response pair. Rows are only ever inserted.
type Conversation struct {
	bun.BaseModel `bun:"table:conversations,alias:c"`

	ID         int64     `bun:"id,pk,autoincrement" json:"id"`
	UserQuery  string    `bun:"user_query,notnull" json:"user_query"`
	AIResponse string    `bun:"ai_response,notnull" json:"ai_response"`
	Timestamp  time.Time `bun:"timestamp,notnull,default:current_timestamp" json:"timestamp"`
}

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID             int64  `bun:"id,pk,autoincrement" json:"id"`
	Email          string `bun:"email,notnull,unique" json:"email"`
	HashedPassword string `bun:"hashed_password,notnull" json:"-"`
}

type DailyCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// Summary aggregates the interaction log.
type Summary struct {
	TotalConversations int          `json:"total_conversations"`
	AvgQueryLength     float64      `json:"avg_query_length"`
	AvgResponseLength  float64      `json:"avg_response_length"`
	Daily              []DailyCount `json:"daily"`
}

// Store is the relational side of the service: the interaction log and the
// user table.
type Store struct {
	db         *bun.DB
	bcryptCost int
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db, bcryptCost: bcrypt.DefaultCost}
}

// WithBcryptCost overrides the hashing cost. Tests use bcrypt.MinCost.
func (s *Store) WithBcryptCost(cost int) *Store {
	s.bcryptCost = cost
	return s
}

func (s *Store) DB() *bun.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LogConversation inserts one interaction record and returns it.
func (s *Store) LogConversation(ctx context.Context, query, response string) (*Conversation, error) {
	c := &Conversation{
		UserQuery:  query,
		AIResponse: response,
		Timestamp:  time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(c).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to log conversation: %w", err)
	}
	return c, nil
}

// RecordInteraction satisfies the chat pipeline's interaction log.
func (s *Store) RecordInteraction(ctx context.Context, query, response string) error {
	_, err := s.LogConversation(ctx, query, response)
	return err
}

// CreateUser hashes password and stores a new user. An email that is already
// taken yields ErrEmailExists and leaves the table unchanged.
func (s *Store) CreateUser(ctx context.Context, email, password string) (*User, error) {
	email = normalizeEmail(email)
	exists, err := s.db.NewSelect().Model((*User)(nil)).Where("email = ?", email).Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if exists {
		return nil, ErrEmailExists
	}

	hashed, err := helper.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	u := &User{Email: email, HashedPassword: hashed}
	if _, err := s.db.NewInsert().Model(u).Exec(ctx); err != nil {
		// lost a race with a concurrent registration
		if isUniqueViolation(err) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// GetUserByEmail returns sql.ErrNoRows when no user matches.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u := new(User)
	err := s.db.NewSelect().Model(u).Where("email = ?", normalizeEmail(email)).Limit(1).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate returns the user if password matches the stored hash.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if !helper.VerifyPassword(u.HashedPassword, password) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// RecentConversations returns up to limit records, newest first.
func (s *Store) RecentConversations(ctx context.Context, limit int) ([]Conversation, error) {
	var convs []Conversation
	err := s.db.NewSelect().
		Model(&convs).
		Order("timestamp DESC", "id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

// Summary computes the dashboard figures over the whole log.
func (s *Store) Summary(ctx context.Context) (*Summary, error) {
	sum := &Summary{Daily: []DailyCount{}}
	err := s.db.NewSelect().
		Model((*Conversation)(nil)).
		ColumnExpr("count(*)").
		ColumnExpr("coalesce(avg(length(user_query)), 0)").
		ColumnExpr("coalesce(avg(length(ai_response)), 0)").
		Scan(ctx, &sum.TotalConversations, &sum.AvgQueryLength, &sum.AvgResponseLength)
	if err != nil {
		return nil, fmt.Errorf("failed to summarise conversations: %w", err)
	}

	// bucket by UTC day in Go; date functions differ between dialects
	var stamps []Conversation
	if err := s.db.NewSelect().Model(&stamps).Column("timestamp").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to load conversation timestamps: %w", err)
	}
	perDay := make(map[string]int)
	for _, c := range stamps {
		perDay[c.Timestamp.UTC().Format(time.DateOnly)]++
	}
	for day, n := range perDay {
		sum.Daily = append(sum.Daily, DailyCount{Day: day, Count: n})
	}
	sort.Slice(sum.Daily, func(i, j int) bool { return sum.Daily[i].Day < sum.Daily[j].Day })
	return sum, nil
}

// normalizeEmail only trims surrounding whitespace; addresses are stored and
// matched as given.
func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}
