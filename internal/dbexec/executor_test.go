package dbexec

import (
	"context"
	"errors"
	"testing"

	"graphql-cypher/internal/intent"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type userKey struct{}

func userFromCtx(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userKey{}).(string)
	return user, ok
}

func TestExecutorConfig(t *testing.T) {
	t.Run("allowlist is indexed", func(t *testing.T) {
		e := NewNeo4jExecutor(ExecutorConfig{AllowedUsers: []string{"app_admin", "app_analyst"}, ValidateUser: true})
		assert.Len(t, e.allowedUsers, 2)
		assert.Contains(t, e.allowedUsers, "app_admin")
		assert.Contains(t, e.allowedUsers, "app_analyst")
		assert.True(t, e.validateUser)
	})

	t.Run("session mode and database", func(t *testing.T) {
		e := NewNeo4jExecutor(ExecutorConfig{Database: "movies"})
		cfg, err := e.sessionConfig(context.Background(), ModeWrite)
		require.NoError(t, err)
		assert.Equal(t, neo4j.AccessModeWrite, cfg.AccessMode)
		assert.Equal(t, "movies", cfg.DatabaseName)
		assert.Empty(t, cfg.ImpersonatedUser)

		cfg, err = e.sessionConfig(context.Background(), ModeRead)
		require.NoError(t, err)
		assert.Equal(t, neo4j.AccessModeRead, cfg.AccessMode)
	})

	t.Run("impersonates the context user", func(t *testing.T) {
		e := NewNeo4jExecutor(ExecutorConfig{UserFromCtx: userFromCtx, AllowedUsers: []string{"alice"}, ValidateUser: true})
		cfg, err := e.sessionConfig(context.WithValue(context.Background(), userKey{}, "alice"), ModeRead)
		require.NoError(t, err)
		assert.Equal(t, "alice", cfg.ImpersonatedUser)

		_, err = e.sessionConfig(context.WithValue(context.Background(), userKey{}, "mallory"), ModeRead)
		assert.ErrorIs(t, err, ErrUserNotAllowed)
	})

	t.Run("unvalidated users pass through", func(t *testing.T) {
		e := NewNeo4jExecutor(ExecutorConfig{UserFromCtx: userFromCtx})
		cfg, err := e.sessionConfig(context.WithValue(context.Background(), userKey{}, "bob"), ModeRead)
		require.NoError(t, err)
		assert.Equal(t, "bob", cfg.ImpersonatedUser)
	})
}

func TestExecute(t *testing.T) {
	e := NewNeo4jExecutor(ExecutorConfig{})
	var gotMode Mode
	var gotStmt Statement
	e.run = func(_ context.Context, _ neo4j.SessionConfig, mode Mode, stmt Statement) (*Result, error) {
		gotMode, gotStmt = mode, stmt
		return &Result{Records: []map[string]any{{"this": map[string]any{"title": "Up"}}}}, nil
	}

	stmt := Statement{Cypher: "MATCH (this:`Movie`) RETURN this { .title } AS this", Params: map[string]any{}}
	res, err := e.Execute(context.Background(), ModeRead, stmt)
	require.NoError(t, err)
	assert.Equal(t, ModeRead, gotMode)
	assert.Equal(t, stmt, gotStmt)
	require.Len(t, res.Records, 1)
}

func TestExecuteMapsGuardFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    error
		wantMsg string
	}{
		{
			name: "forbidden",
			err: &neo4j.Neo4jError{
				Code: "Neo.ClientError.Procedure.ProcedureCallFailed",
				Msg:  "Failed to invoke procedure `apoc.util.validate`: Caused by: java.lang.RuntimeException: graphql-cypher/FORBIDDEN",
			},
			want:    ErrForbidden,
			wantMsg: "forbidden: graphql-cypher/FORBIDDEN",
		},
		{
			name: "cardinality",
			err: &neo4j.Neo4jError{
				Code: "Neo.ClientError.Procedure.ProcedureCallFailed",
				Msg:  "Failed to invoke procedure `apoc.util.validate`: Caused by: java.lang.RuntimeException: graphql-cypher/RELATIONSHIP-CARDINALITY: Movie.director must be connected at most once",
			},
			want:    ErrRelationshipCardinality,
			wantMsg: "Movie.director must be connected at most once",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewNeo4jExecutor(ExecutorConfig{})
			e.run = func(context.Context, neo4j.SessionConfig, Mode, Statement) (*Result, error) {
				return nil, tt.err
			}
			_, err := e.Execute(context.Background(), ModeWrite, Statement{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestMapErrorPassesOtherErrors(t *testing.T) {
	plain := errors.New("connection reset")
	assert.Same(t, plain, mapError(plain))
	assert.NoError(t, mapError(nil))

	syntax := &neo4j.Neo4jError{Code: "Neo.ClientError.Statement.SyntaxError", Msg: "Invalid input"}
	err := mapError(syntax)
	assert.ErrorIs(t, err, syntax)
	assert.NotErrorIs(t, err, ErrForbidden)
	assert.Contains(t, err.Error(), "Neo.ClientError.Statement.SyntaxError")
}

func TestExecuteWithoutDriver(t *testing.T) {
	_, err := NewNeo4jExecutor(ExecutorConfig{}).Execute(context.Background(), ModeRead, Statement{Cypher: "RETURN 1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver is not configured")
}

func TestModeFor(t *testing.T) {
	assert.Equal(t, ModeRead, ModeFor(intent.OperationRead))
	assert.Equal(t, ModeRead, ModeFor(intent.OperationAggregate))
	assert.Equal(t, ModeWrite, ModeFor(intent.OperationCreate))
	assert.Equal(t, ModeWrite, ModeFor(intent.OperationUpdate))
	assert.Equal(t, ModeWrite, ModeFor(intent.OperationDelete))
}
