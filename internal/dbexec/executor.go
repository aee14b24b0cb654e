// Package dbexec runs compiled Cypher statements against Neo4j.
// It supports both direct execution and per-request impersonation of a
// database user taken from the request context.
package dbexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"graphql-cypher/internal/logging"
	"graphql-cypher/internal/translate"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrForbidden reports a failed authorization guard.
	ErrForbidden = errors.New("forbidden")
	// ErrRelationshipCardinality reports a failed relationship cardinality guard.
	ErrRelationshipCardinality = errors.New("relationship cardinality violated")
	// ErrUserNotAllowed reports an impersonation target outside the allowlist.
	ErrUserNotAllowed = errors.New("impersonated user not allowed")
)

// Mode selects the transaction kind a statement runs in.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

// Statement is a compiled query with its parameters.
type Statement struct {
	Cypher string
	Params map[string]any
}

// Counters summarizes the writes a statement made.
type Counters struct {
	NodesCreated         int `json:"nodesCreated"`
	NodesDeleted         int `json:"nodesDeleted"`
	RelationshipsCreated int `json:"relationshipsCreated"`
	RelationshipsDeleted int `json:"relationshipsDeleted"`
	PropertiesSet        int `json:"propertiesSet"`
}

// Result holds the records a statement returned, keyed by column.
type Result struct {
	Records  []map[string]any `json:"records"`
	Counters Counters         `json:"counters"`
}

// QueryExecutor abstracts statement execution so callers can swap in a fake.
type QueryExecutor interface {
	Execute(ctx context.Context, mode Mode, stmt Statement) (*Result, error)
}

type runFunc func(ctx context.Context, session neo4j.SessionConfig, mode Mode, stmt Statement) (*Result, error)

// Neo4jExecutor runs statements in managed transactions on a driver.
type Neo4jExecutor struct {
	driver       neo4j.DriverWithContext
	database     string
	userFromCtx  func(context.Context) (string, bool)
	allowedUsers map[string]struct{}
	validateUser bool
	run          runFunc
}

// ExecutorConfig controls execution behavior.
type ExecutorConfig struct {
	Driver   neo4j.DriverWithContext
	Database string
	// UserFromCtx returns the database user to impersonate for a request.
	// Nil disables impersonation.
	UserFromCtx  func(context.Context) (string, bool)
	AllowedUsers []string
	ValidateUser bool
}

// NewNeo4jExecutor creates an executor over cfg.Driver.
func NewNeo4jExecutor(cfg ExecutorConfig) *Neo4jExecutor {
	allowed := make(map[string]struct{}, len(cfg.AllowedUsers))
	for _, user := range cfg.AllowedUsers {
		allowed[user] = struct{}{}
	}
	e := &Neo4jExecutor{
		driver:       cfg.Driver,
		database:     cfg.Database,
		userFromCtx:  cfg.UserFromCtx,
		allowedUsers: allowed,
		validateUser: cfg.ValidateUser,
	}
	e.run = e.runManaged
	return e
}

var tracer = otel.Tracer("graphql-cypher/dbexec")

// Execute runs stmt in a read or write transaction and collects its records.
// Guard failures come back as ErrForbidden or ErrRelationshipCardinality.
func (e *Neo4jExecutor) Execute(ctx context.Context, mode Mode, stmt Statement) (*Result, error) {
	ctx, span := tracer.Start(ctx, "dbexec.execute", trace.WithAttributes(
		attribute.String("db.system", "neo4j"),
		attribute.String("db.neo4j.access_mode", mode.String()),
	))
	defer span.End()

	session, err := e.sessionConfig(ctx, mode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	start := time.Now()
	res, err := e.run(ctx, session, mode, stmt)
	err = mapError(err)
	logger := logging.FromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("statement failed",
			slog.String("mode", mode.String()),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		return nil, err
	}
	span.SetAttributes(attribute.Int("db.neo4j.records", len(res.Records)))
	logger.Debug("statement executed",
		slog.String("mode", mode.String()),
		slog.Int("records", len(res.Records)),
		slog.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (e *Neo4jExecutor) sessionConfig(ctx context.Context, mode Mode) (neo4j.SessionConfig, error) {
	cfg := neo4j.SessionConfig{DatabaseName: e.database, AccessMode: neo4j.AccessModeRead}
	if mode == ModeWrite {
		cfg.AccessMode = neo4j.AccessModeWrite
	}
	if e.userFromCtx == nil {
		return cfg, nil
	}
	user, ok := e.userFromCtx(ctx)
	if !ok || user == "" {
		return cfg, nil
	}
	if e.validateUser {
		if _, allowed := e.allowedUsers[user]; !allowed {
			return neo4j.SessionConfig{}, fmt.Errorf("%w: %s", ErrUserNotAllowed, user)
		}
	}
	cfg.ImpersonatedUser = user
	return cfg, nil
}

func (e *Neo4jExecutor) runManaged(ctx context.Context, cfg neo4j.SessionConfig, mode Mode, stmt Statement) (*Result, error) {
	if e.driver == nil {
		return nil, errors.New("neo4j driver is not configured")
	}
	session := e.driver.NewSession(ctx, cfg)
	defer func() {
		_ = session.Close(ctx)
	}()

	work := func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, stmt.Cypher, stmt.Params)
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		out := &Result{Records: make([]map[string]any, 0, len(records))}
		for _, record := range records {
			out.Records = append(out.Records, record.AsMap())
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return nil, err
		}
		counters := summary.Counters()
		out.Counters = Counters{
			NodesCreated:         counters.NodesCreated(),
			NodesDeleted:         counters.NodesDeleted(),
			RelationshipsCreated: counters.RelationshipsCreated(),
			RelationshipsDeleted: counters.RelationshipsDeleted(),
			PropertiesSet:        counters.PropertiesSet(),
		}
		return out, nil
	}

	var (
		raw any
		err error
	)
	if mode == ModeWrite {
		raw, err = session.ExecuteWrite(ctx, work)
	} else {
		raw, err = session.ExecuteRead(ctx, work)
	}
	if err != nil {
		return nil, err
	}
	return raw.(*Result), nil
}

// mapError turns a guard failure raised through apoc.util.validate into the
// matching sentinel, keeping the server message.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var neoErr *neo4j.Neo4jError
	if !errors.As(err, &neoErr) {
		return err
	}
	switch {
	case strings.Contains(neoErr.Msg, translate.ForbiddenCode):
		return fmt.Errorf("%w: %s", ErrForbidden, guardMessage(neoErr.Msg, translate.ForbiddenCode))
	case strings.Contains(neoErr.Msg, translate.CardinalityCode):
		return fmt.Errorf("%w: %s", ErrRelationshipCardinality, guardMessage(neoErr.Msg, translate.CardinalityCode))
	default:
		return fmt.Errorf("neo4j %s: %w", neoErr.Code, err)
	}
}

// guardMessage trims the procedure failure wrapper down to the guard text.
func guardMessage(msg, code string) string {
	if i := strings.Index(msg, code); i >= 0 {
		return strings.TrimSpace(msg[i:])
	}
	return msg
}
