package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"graphql-cypher/internal/authz"
	"graphql-cypher/internal/config"
	"graphql-cypher/internal/dbexec"
	"graphql-cypher/internal/intent"
	"graphql-cypher/internal/translate"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var schemaFlag = []string{"--compiler.schema_file", filepath.Join("testdata", "schema.yaml")}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand("1.2.3", "abc123")
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func compileArgs(files ...string) []string {
	args := append([]string{"compile"}, schemaFlag...)
	for _, f := range files {
		if f == "-" {
			args = append(args, f)
			continue
		}
		args = append(args, filepath.Join("testdata", f))
	}
	return args
}

func decodeStatements(t *testing.T, out string) []statement {
	t.Helper()
	var stmts []statement
	require.NoError(t, json.Unmarshal([]byte(out), &stmts), out)
	return stmts
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestVersionCommand(t *testing.T) {
	out, _, err := runCLI(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "graphql-cypher 1.2.3 (abc123)\n", out)
}

func TestCompile_ReadIntent(t *testing.T) {
	out, _, err := runCLI(t, "", compileArgs("read.yaml")...)
	require.NoError(t, err)

	stmts := decodeStatements(t, out)
	require.Len(t, stmts, 1)
	stmt := stmts[0]
	assert.Equal(t, filepath.Join("testdata", "read.yaml"), stmt.Source)
	assert.Equal(t, intent.OperationRead, stmt.Operation)
	assert.Contains(t, stmt.Cypher, "MATCH (this:`Movie`)")
	assert.Contains(t, stmt.Cypher, "RETURN this")
	assert.Contains(t, stmt.Params, "param0")
	_, err = uuid.Parse(stmt.CompilationID)
	assert.NoError(t, err)
}

func TestCompile_FilesKeepArgumentOrder(t *testing.T) {
	args := append(compileArgs("create.yaml", "read.yaml", "graphql.yaml"), "--compiler.parallelism", "2")
	out, _, err := runCLI(t, "", args...)
	require.NoError(t, err)

	stmts := decodeStatements(t, out)
	require.Len(t, stmts, 4)
	var sources []string
	for _, s := range stmts {
		sources = append(sources, filepath.Base(s.Source))
	}
	assert.Equal(t, []string{"create.yaml", "read.yaml", "graphql.yaml", "graphql.yaml"}, sources)
	assert.Equal(t, intent.OperationCreate, stmts[0].Operation)
	assert.Contains(t, stmts[0].Cypher, "CREATE")

	ids := map[string]bool{}
	for _, s := range stmts {
		ids[s.CompilationID] = true
	}
	assert.Len(t, ids, 3, "one compilation id per file")
}

func TestCompile_GraphQLDocument(t *testing.T) {
	out, _, err := runCLI(t, "", compileArgs("graphql.yaml")...)
	require.NoError(t, err)

	stmts := decodeStatements(t, out)
	require.Len(t, stmts, 2)
	assert.Equal(t, "movies", stmts[0].Key)
	assert.Equal(t, intent.OperationRead, stmts[0].Operation)
	assert.Contains(t, stmts[0].Cypher, "LIMIT")
	assert.Equal(t, "moviesAggregate", stmts[1].Key)
	assert.Equal(t, intent.OperationAggregate, stmts[1].Operation)
	assert.Contains(t, stmts[1].Cypher, "count(")
	assert.Equal(t, stmts[0].CompilationID, stmts[1].CompilationID)
}

func TestCompile_Stdin(t *testing.T) {
	out, _, err := runCLI(t, "type: Actor\nselection: [name]\n", compileArgs("-")...)
	require.NoError(t, err)

	stmts := decodeStatements(t, out)
	require.Len(t, stmts, 1)
	assert.Equal(t, "-", stmts[0].Source)
	assert.Contains(t, stmts[0].Cypher, "MATCH (this:`Actor`)")
}

func TestCompile_TokenClaimsReachParameters(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"sub": "user-42"})

	out, _, err := runCLI(t, "", append(compileArgs("reviews.yaml"), "--token", "Bearer "+token)...)
	require.NoError(t, err)
	assert.Contains(t, out, `"user-42"`)

	anonymous, _, err := runCLI(t, "", compileArgs("reviews.yaml")...)
	require.NoError(t, err)
	assert.NotContains(t, anonymous, `"user-42"`)
}

func TestCompile_OutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	out, _, err := runCLI(t, "", append(compileArgs("read.yaml"), "--output", path)...)
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, decodeStatements(t, string(data)), 1)
}

func TestCompile_PrintMetrics(t *testing.T) {
	_, stderr, err := runCLI(t, "", append(compileArgs("create.yaml", "read.yaml"), "--print-metrics")...)
	require.NoError(t, err)
	assert.Contains(t, stderr, "cypher_compile")
	assert.Contains(t, stderr, "cypher_create_strategy")
}

func TestCompile_PrintMetricsDisabled(t *testing.T) {
	args := append(compileArgs("read.yaml"), "--print-metrics", "--observability.metrics_enabled=false")
	_, _, err := runCLI(t, "", args...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics are disabled")
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
		wantIs  error
	}{
		{
			name:    "unknown type",
			args:    compileArgs("unknown.yaml"),
			wantErr: "unknown.yaml",
			wantIs:  translate.ErrUnknownType,
		},
		{
			name:    "missing file",
			args:    compileArgs("absent.yaml"),
			wantErr: "absent.yaml",
			wantIs:  os.ErrNotExist,
		},
		{
			name:    "bad token",
			args:    append(compileArgs("read.yaml"), "--token", "not-a-jwt"),
			wantErr: "parse token",
		},
		{
			name:    "invalid config",
			args:    append(compileArgs("read.yaml"), "--compiler.parallelism", "0"),
			wantErr: "compiler.parallelism",
		},
		{
			name:    "missing schema",
			args:    []string{"compile", "--compiler.schema_file", "testdata/none.yaml", "testdata/read.yaml"},
			wantErr: "none.yaml",
		},
		{
			name:    "no files",
			args:    []string{"compile"},
			wantErr: "requires at least 1 arg",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runCLI(t, "", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
		})
	}
}

func TestSchemaCommand(t *testing.T) {
	out, _, err := runCLI(t, "", append([]string{"schema"}, schemaFlag...)...)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Contains(t, lines, "movies")
	assert.Contains(t, lines, "moviesAggregate")
	assert.Contains(t, lines, "contributors")
}

type fakeExecutor struct {
	calls []dbexec.Statement
	modes []dbexec.Mode
	users []string
	err   error
}

func (f *fakeExecutor) Execute(ctx context.Context, mode dbexec.Mode, stmt dbexec.Statement) (*dbexec.Result, error) {
	f.calls = append(f.calls, stmt)
	f.modes = append(f.modes, mode)
	if user, ok := userFromClaim("db_user")(ctx); ok {
		f.users = append(f.users, user)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &dbexec.Result{
		Records:  []map[string]any{{"this": map[string]any{"title": "Up"}}},
		Counters: dbexec.Counters{NodesCreated: len(f.calls) - 1},
	}, nil
}

func stubExecutor(t *testing.T, fake *fakeExecutor) *bool {
	t.Helper()
	closed := false
	orig := openExecutor
	openExecutor = func(ctx context.Context, cfg *config.Config) (dbexec.QueryExecutor, func(context.Context) error, error) {
		return fake, func(context.Context) error { closed = true; return nil }, nil
	}
	t.Cleanup(func() { openExecutor = orig })
	return &closed
}

func TestExecute_RunsEachStatement(t *testing.T) {
	fake := &fakeExecutor{}
	closed := stubExecutor(t, fake)
	token := signedToken(t, jwt.MapClaims{"sub": "u1", "db_user": "alice"})

	args := append(append([]string{"execute"}, schemaFlag...), filepath.Join("testdata", "graphql.yaml"), "--token", token)
	out, _, err := runCLI(t, "", args...)
	require.NoError(t, err)
	assert.True(t, *closed)

	require.Len(t, fake.calls, 2)
	assert.Equal(t, []dbexec.Mode{dbexec.ModeRead, dbexec.ModeRead}, fake.modes)
	assert.Equal(t, []string{"alice", "alice"}, fake.users)

	var results []executed
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "movies", results[0].Key)
	assert.Equal(t, "Up", results[0].Records[0]["this"].(map[string]any)["title"])
}

func TestExecute_WriteUsesWriteMode(t *testing.T) {
	fake := &fakeExecutor{}
	stubExecutor(t, fake)

	args := append(append([]string{"execute"}, schemaFlag...), filepath.Join("testdata", "create.yaml"))
	_, _, err := runCLI(t, "", args...)
	require.NoError(t, err)
	assert.Equal(t, []dbexec.Mode{dbexec.ModeWrite}, fake.modes)
}

func TestExecute_GuardFailure(t *testing.T) {
	fake := &fakeExecutor{err: dbexec.ErrForbidden}
	closed := stubExecutor(t, fake)

	args := append(append([]string{"execute"}, schemaFlag...), filepath.Join("testdata", "read.yaml"))
	_, _, err := runCLI(t, "", args...)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dbexec.ErrForbidden))
	assert.True(t, *closed)
}

func TestUserFromClaim(t *testing.T) {
	lookup := userFromClaim("db_user")

	_, ok := lookup(context.Background())
	assert.False(t, ok)

	_, ok = lookup(authz.WithClaims(context.Background(), authz.Claims{"db_user": 7}))
	assert.False(t, ok)

	user, ok := lookup(authz.WithClaims(context.Background(), authz.Claims{"db_user": "bob"}))
	assert.True(t, ok)
	assert.Equal(t, "bob", user)
}
