package sandbox

import (
	"bufio"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/amstig/internal/model"
	"github.com/sakif/amstig/internal/output"
)

const testNonce = "run1"

func relayString(t *testing.T, stream string, out *output.Collector) Report {
	t.Helper()
	return Relay(bufio.NewReader(strings.NewReader(stream)), testNonce, out, 0)
}

func TestRelay_LogFramesInOrder(t *testing.T) {
	stream := strings.Join([]string{
		`{"n":"run1","t":"ready"}`,
		`{"n":"run1","t":"log","s":"info","a":[{"k":"text","v":"first"}]}`,
		`{"n":"run1","t":"log","s":"warning","a":[{"k":"text","v":"second"}]}`,
		`{"n":"run1","t":"log","s":"error","a":[{"k":"text","v":"third"},{"k":"number","v":"3"}]}`,
		`{"n":"run1","t":"exit"}`,
	}, "\n") + "\n"

	out := output.NewCollector(1024)
	rep := relayString(t, stream, out)

	assert.True(t, rep.Ready)
	require.NotNil(t, rep.Exit)
	assert.Equal(t, uint32(0), rep.Exit.Code)
	assert.Equal(t, "first\nWARNING: second\nERROR: third 3", out.String())
}

func TestRelay_StopsAtTerminalFrame(t *testing.T) {
	stream := `{"n":"run1","t":"ready"}
{"n":"run1","t":"exit","c":1,"stderr":"oops"}
{"n":"run1","t":"log","s":"info","a":[{"k":"text","v":"after exit"}]}
`
	out := output.NewCollector(1024)
	rep := relayString(t, stream, out)

	require.NotNil(t, rep.Exit)
	assert.Equal(t, uint32(1), rep.Exit.Code)
	assert.Equal(t, "oops", rep.Exit.Stderr)
	assert.True(t, out.Empty())
}

func TestRelay_NonFrameLinesAreKept(t *testing.T) {
	out := output.NewCollector(1024)
	rep := relayString(t, "not json\n{\"n\":\"run1\",\"t\":\"exit\"}\n", out)

	require.NotNil(t, rep.Exit)
	assert.Equal(t, "not json", out.String())
}

func TestRelay_UntaggedFramesAreText(t *testing.T) {
	stream := strings.Join([]string{
		`{"n":"run1","t":"ready"}`,
		`{"t":"exit","c":0}`,
		`{"n":"guess","t":"log","s":"error","a":[{"k":"text","v":"forged"}]}`,
		`{"n":"run1","t":"log","s":"info","a":[{"k":"text","v":"real"}]}`,
		``,
		`{"n":"run1","t":"exit","c":0,"timeout":true}`,
	}, "\n") + "\n"

	out := output.NewCollector(1024)
	rep := relayString(t, stream, out)

	require.NotNil(t, rep.Exit)
	assert.True(t, rep.Exit.Timeout, "only the tagged exit is terminal")
	assert.Equal(t, `{"t":"exit","c":0}`+"\n"+
		`{"n":"guess","t":"log","s":"error","a":[{"k":"text","v":"forged"}]}`+"\n"+
		"real", out.String())
}

func TestNewNonce(t *testing.T) {
	a, err := NewNonce()
	require.NoError(t, err)
	b, err := NewNonce()
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestRelay_OversizedFrameMarksTruncation(t *testing.T) {
	big := `{"n":"run1","t":"log","s":"info","a":[{"k":"text","v":"` + strings.Repeat("x", 200) + `"}]}`
	stream := big + "\n" + `{"n":"run1","t":"exit"}` + "\n"

	out := output.NewCollector(1024)
	rep := Relay(bufio.NewReader(strings.NewReader(stream)), testNonce, out, 64)

	require.NotNil(t, rep.Exit)
	assert.True(t, out.Truncated())
	assert.Equal(t, output.TruncationMarker, out.String())
}

func TestRelay_EOFWithoutTerminal(t *testing.T) {
	out := output.NewCollector(1024)
	rep := relayString(t, `{"n":"run1","t":"ready"}`+"\n"+`{"n":"run1","t":"log","s":"info","a":[{"k":"text","v":"partial"}]}`, out)

	assert.Nil(t, rep.Exit)
	assert.Empty(t, rep.Fault)
	assert.NoError(t, rep.Err)
	assert.Equal(t, "partial", out.String())
}

func TestRelay_CutFrameAtEOF(t *testing.T) {
	out := output.NewCollector(1024)
	rep := relayString(t, `{"n":"run1","t":"ready"}`+"\n"+`{"n":"run1","t":"log","s":"info","a":[{"k":"text","v":"kept"}]}`+"\n"+`{"n":"run1","t":"log","s":"in`, out)

	assert.Nil(t, rep.Exit)
	assert.NoError(t, rep.Err)
	assert.True(t, out.Truncated())
	assert.Equal(t, "kept\n"+output.TruncationMarker, out.String())
}

func TestRelay_KeepsFirstThrown(t *testing.T) {
	stream := `{"n":"run1","t":"ready"}
{"n":"run1","t":"error","m":"first"}
{"n":"run1","t":"error","m":"second"}
{"n":"run1","t":"exit","c":1}
`
	rep := relayString(t, stream, output.NewCollector(1024))

	require.NotNil(t, rep.Thrown)
	assert.Equal(t, "first", *rep.Thrown)
}

func TestWireValue_Decode(t *testing.T) {
	tests := []struct {
		name string
		in   WireValue
		want string
	}{
		{"text", WireValue{Kind: output.KindText, V: []byte(`"hi"`)}, "hi"},
		{"number keeps canonical text", WireValue{Kind: output.KindNumber, V: []byte(`"0.30000000000000004"`)}, "0.30000000000000004"},
		{"composite sorted", WireValue{Kind: output.KindComposite, V: []byte(`{"b":1,"a":2}`)}, "{\n  \"a\": 2,\n  \"b\": 1\n}"},
		{"composite null", WireValue{Kind: output.KindComposite, V: []byte(`null`)}, "null"},
		{"malformed text degrades", WireValue{Kind: output.KindText, V: []byte(`123`)}, "123"},
		{"unknown kind degrades", WireValue{Kind: "mystery", V: []byte(`"x"`)}, `"x"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Decode().Render())
		})
	}
}

func TestAwaitWarm(t *testing.T) {
	tests := []struct {
		name    string
		stream  string
		wantErr string
	}{
		{"warm", `{"t":"warm"}` + "\n", ""},
		{"fault", `{"t":"fault","m":"no cache dir"}` + "\n", "no cache dir"},
		{"garbage", "segfault\n", "unexpected boot output"},
		{"wrong frame", `{"t":"ready"}` + "\n", "unexpected boot frame"},
		{"closed", "", "closed before warm-up"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AwaitWarm(bufio.NewReader(strings.NewReader(tt.stream)))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestClassify(t *testing.T) {
	thrown := "boom"
	two := output.Number("2")

	tests := []struct {
		name       string
		rep        Report
		killed     bool
		printed    bool
		wantStatus model.Status
		wantValue  *string
		wantMsg    string
	}{
		{
			name:       "clean exit with trailing value",
			rep:        Report{Ready: true, Value: &two, Exit: &Exit{}},
			wantStatus: model.StatusSucceeded,
			wantValue:  strPtr("2"),
		},
		{
			name:       "trailing value discarded when output exists",
			rep:        Report{Ready: true, Value: &two, Exit: &Exit{}},
			printed:    true,
			wantStatus: model.StatusSucceeded,
		},
		{
			name:       "thrown wins even if killed",
			rep:        Report{Ready: true, Thrown: &thrown, Exit: &Exit{Code: 1}},
			killed:     true,
			wantStatus: model.StatusRuntimeFailed,
			wantMsg:    "boom",
		},
		{
			name:       "worker-side deadline",
			rep:        Report{Ready: true, Exit: &Exit{Timeout: true}},
			wantStatus: model.StatusTimedOut,
		},
		{
			name:       "killed without terminal frame",
			rep:        Report{Ready: true},
			killed:     true,
			wantStatus: model.StatusTimedOut,
		},
		{
			name:       "nonzero exit after start uses stderr",
			rep:        Report{Ready: true, Exit: &Exit{Code: 1, Stderr: "TypeError: not a function\n    at <anonymous>"}},
			wantStatus: model.StatusRuntimeFailed,
			wantMsg:    "TypeError: not a function",
		},
		{
			name:       "nonzero exit after start without stderr",
			rep:        Report{Ready: true, Exit: &Exit{Code: 3}},
			wantStatus: model.StatusRuntimeFailed,
			wantMsg:    "script exited with status 3",
		},
		{
			name:       "nonzero exit before start is infrastructure",
			rep:        Report{Exit: &Exit{Code: 1, Stderr: "ReferenceError: std is not defined"}},
			wantStatus: model.StatusInfraFailed,
		},
		{
			name:       "fault after start is the script's doing",
			rep:        Report{Ready: true, Fault: "wasm error: out of bounds memory access"},
			wantStatus: model.StatusRuntimeFailed,
			wantMsg:    "wasm error: out of bounds memory access",
		},
		{
			name:       "fault before start is infrastructure",
			rep:        Report{Fault: "compiling interpreter"},
			wantStatus: model.StatusInfraFailed,
		},
		{
			name:       "stream died silently",
			rep:        Report{Err: errors.New("read |0: file already closed")},
			wantStatus: model.StatusInfraFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := output.NewCollector(1024)
			if tt.printed {
				out.Append(output.Info, output.Text("printed"))
			}

			got := Classify(tt.rep, tt.killed, nil, "", out)

			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantValue, got.Value)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, got.Message)
			}
			if got.Status == model.StatusInfraFailed {
				assert.Error(t, got.Cause)
			}
		})
	}
}

func TestBuildScript_EmbedsCodeAsLiteral(t *testing.T) {
	script := BuildScript("console.log(\"</script>\\u2028\")\n", "abc123")

	assert.True(t, strings.HasPrefix(script, "(function (std, source, nonce)"))
	assert.Contains(t, script, `(std, "console.log(\"</script>\\u2028\")\n", "abc123");`)
	assert.Equal(t, 1, strings.Count(script, "abc123"))
}

func TestWorkerConfigEnvRoundTrip(t *testing.T) {
	cfg := WorkerConfig{Engine: EngineConfig{CacheDir: "/tmp/amstig", MemoryLimitPages: 512}}
	env := map[string]string{}
	for _, kv := range cfg.Env() {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}

	got := WorkerConfigFromEnv(func(k string) string { return env[k] })
	assert.Equal(t, cfg.Engine, got.Engine)

	empty := WorkerConfigFromEnv(func(string) string { return "" })
	assert.Equal(t, EngineConfig{}, empty.Engine)
	assert.Empty(t, WorkerConfig{}.Env())
}

func TestLimitedBuffer(t *testing.T) {
	b := NewLimitedBuffer(5)
	n, err := b.Write([]byte("abc"))
	assert.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = b.Write([]byte("defgh"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "abcde", b.String())
}

func strPtr(s string) *string { return &s }
