package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lumen/core"
	"github.com/hupe1980/lumen/internal/testutil"
	"github.com/hupe1980/lumen/memory"
	"github.com/hupe1980/lumen/session"
)

type fixture struct {
	relay *Relay
	convs *session.InMemoryStore
	mem   *memory.InMemoryStore
	sess  Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	convs := session.NewInMemoryStore()
	mem := memory.NewInMemoryStore()
	conv, err := convs.CreateConversation(context.Background(), "u1", "Test")
	require.NoError(t, err)

	r := New(func(o *Options) {
		o.Conversations = convs
		o.Memory = mem
		o.Summaries = mem
	})
	return &fixture{relay: r, convs: convs, mem: mem, sess: Session{UserID: "u1", ConversationID: conv.ID}}
}

type closeTracker struct {
	io.Reader
	closed atomic.Bool
}

func (c *closeTracker) Close() error { c.closed.Store(true); return nil }

func TestRelay_FullStream(t *testing.T) {
	body := testutil.NewStreamBuilder().
		TurnStart(1).
		Chunk("The answer ").
		ToolCall("t1", "calculator", `{"expression":"2+2"}`).
		ToolResult("t1", "calculator", "2+2 = 4", false).
		TurnStart(2).
		Chunk("is 4.").
		AgentComplete(2).
		End().
		Consolidation("Likes math", "Asked for 2+2").
		Bytes()

	readers := map[string]func([]byte) io.Reader{
		"whole":    func(b []byte) io.Reader { return bytes.NewReader(b) },
		"one byte": func(b []byte) io.Reader { return iotest.OneByteReader(bytes.NewReader(b)) },
		"half":     func(b []byte) io.Reader { return iotest.HalfReader(bytes.NewReader(b)) },
		"data err": func(b []byte) io.Reader { return iotest.DataErrReader(bytes.NewReader(b)) },
	}
	for name, mk := range readers {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			down := testutil.NewRecorder()

			res, err := f.relay.Run(context.Background(), f.sess, mk(body), down)
			require.NoError(t, err)
			f.relay.Wait()

			assert.Equal(t, []core.EventKind{
				core.KindTurnStart, core.KindChunk, core.KindToolCall, core.KindToolResult,
				core.KindTurnStart, core.KindChunk, core.KindAgentComplete, core.KindEnd,
			}, down.Kinds())
			assert.NotContains(t, down.Raw(), "memory_consolidation")
			assert.Equal(t, core.KindEnd, res.Terminal)
			assert.Equal(t, 8, res.Forwarded)

			end := down.Events()[7].(core.EndEvent)
			assert.Equal(t, f.sess.ConversationID, end.ConversationID)
			assert.Equal(t, res.MessageID, end.MessageID)
			require.NotEmpty(t, end.MessageID)

			msgs, err := f.convs.ListMessages(context.Background(), f.sess.ConversationID)
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, end.MessageID, msgs[0].ID)
			assert.Equal(t, core.RoleAssistant, msgs[0].Role)
			assert.Equal(t, "The answer is 4.", msgs[0].Content)
			require.NotNil(t, msgs[0].Metadata)
			require.Len(t, msgs[0].Metadata.ToolCalls, 1)
			tc := msgs[0].Metadata.ToolCalls[0]
			assert.Equal(t, "t1", tc.ID)
			assert.Equal(t, 11, tc.Offset)
			require.True(t, tc.Resolved())
			assert.Equal(t, "2+2 = 4", *tc.Result)
			assert.False(t, tc.IsError)

			ltm, err := f.mem.GetMemory(context.Background(), "u1")
			require.NoError(t, err)
			assert.Equal(t, "Likes math", ltm.Content)
			assert.NotNil(t, ltm.LastConsolidatedAt)

			sums, err := f.mem.ListSummaries(context.Background(), f.sess.ConversationID)
			require.NoError(t, err)
			require.Len(t, sums, 1)
			assert.Equal(t, "Asked for 2+2", sums[0].Summary)
		})
	}
}

func TestRelay_MalformedFrameForwardedUnchanged(t *testing.T) {
	f := newFixture(t)
	down := testutil.NewRecorder()
	body := testutil.NewStreamBuilder().
		Chunk("a").
		Raw("data: {not json}\n\n").
		Raw(": keep-alive\n\n").
		Raw("data: {\"event\":\"mystery\"}\n\n").
		Chunk("b").
		End().
		String()

	res, err := f.relay.Run(context.Background(), f.sess, strings.NewReader(body), down)
	require.NoError(t, err)

	frames := down.Frames()
	require.Len(t, frames, 6)
	assert.Equal(t, "data: {not json}\n\n", string(frames[1]))
	assert.Equal(t, ": keep-alive\n\n", string(frames[2]))
	assert.Equal(t, "data: {\"event\":\"mystery\"}\n\n", string(frames[3]))
	assert.Equal(t, core.KindEnd, down.Kinds()[5])
	assert.Equal(t, "ab", res.Text)
}

func TestRelay_OversizedFrameForwardedRaw(t *testing.T) {
	convs := session.NewInMemoryStore()
	conv, err := convs.CreateConversation(context.Background(), "u1", "Test")
	require.NoError(t, err)
	r := New(func(o *Options) {
		o.Conversations = convs
		o.MaxFrameSize = 64
	})

	oversized := `data: {"chunk":"` + strings.Repeat("x", 200)
	pr, pw := io.Pipe()
	go func() {
		_, _ = pw.Write(testutil.NewStreamBuilder().Chunk("a").Bytes())
		_, _ = pw.Write([]byte(oversized))
		_, _ = pw.Write(testutil.NewStreamBuilder().End().Bytes())
		_ = pw.Close()
	}()

	down := testutil.NewRecorder()
	res, err := r.Run(context.Background(), Session{UserID: "u1", ConversationID: conv.ID}, pr, down)
	require.NoError(t, err)

	assert.Equal(t, []core.EventKind{core.KindChunk, "", core.KindEnd}, down.Kinds())
	assert.Equal(t, oversized+"\n\n", string(down.Frames()[1]))
	assert.Equal(t, core.KindEnd, res.Terminal)
	assert.Equal(t, "a", res.Text)
}

func TestRelay_TrailingPartialFrame(t *testing.T) {
	t.Run("chunk then eof", func(t *testing.T) {
		f := newFixture(t)
		down := testutil.NewRecorder()
		body := testutil.NewStreamBuilder().Chunk("a").Raw(`data: {"chunk":"b"}`).String()

		res, err := f.relay.Run(context.Background(), f.sess, strings.NewReader(body), down)
		require.NoError(t, err)
		assert.Equal(t, []core.EventKind{core.KindChunk, core.KindChunk, core.KindEnd}, down.Kinds())
		assert.Equal(t, "ab", res.Text)
		assert.NotEmpty(t, res.MessageID)
	})

	t.Run("partial end", func(t *testing.T) {
		f := newFixture(t)
		down := testutil.NewRecorder()
		body := testutil.NewStreamBuilder().Chunk("a").Raw(`data: {"event":"end"}` + "\n").String()

		_, err := f.relay.Run(context.Background(), f.sess, strings.NewReader(body), down)
		require.NoError(t, err)
		assert.Equal(t, []core.EventKind{core.KindChunk, core.KindEnd}, down.Kinds())
		end := down.Events()[1].(core.EndEvent)
		assert.Equal(t, f.sess.ConversationID, end.ConversationID)
	})
}

func TestRelay_EOFWithoutTerminalFinalizes(t *testing.T) {
	f := newFixture(t)
	down := testutil.NewRecorder()
	body := testutil.NewStreamBuilder().TurnStart(1).Chunk("partial").Bytes()

	res, err := f.relay.Run(context.Background(), f.sess, bytes.NewReader(body), down)
	require.NoError(t, err)
	assert.Equal(t, []core.EventKind{core.KindTurnStart, core.KindChunk, core.KindEnd}, down.Kinds())
	assert.Equal(t, core.KindEnd, res.Terminal)
}

func TestRelay_PersistenceFailureEndsWithNullMessageID(t *testing.T) {
	f := newFixture(t)
	f.sess.ConversationID = "unknown-conversation"
	down := testutil.NewRecorder()
	body := testutil.NewStreamBuilder().Chunk("hi").End().Bytes()

	res, err := f.relay.Run(context.Background(), f.sess, bytes.NewReader(body), down)
	require.NoError(t, err)
	assert.Empty(t, res.MessageID)

	frames := down.Frames()
	require.Len(t, frames, 2)
	assert.Contains(t, string(frames[1]), `"message_id":null`)
	assert.Contains(t, string(frames[1]), `"conversation_id":"unknown-conversation"`)
}

func TestRelay_UpstreamReadError(t *testing.T) {
	f := newFixture(t)
	down := testutil.NewRecorder()
	upstream := io.MultiReader(
		bytes.NewReader(testutil.NewStreamBuilder().Chunk("a").Bytes()),
		iotest.ErrReader(errors.New("connection reset")),
	)

	res, err := f.relay.Run(context.Background(), f.sess, upstream, down)
	require.NoError(t, err)
	assert.Equal(t, []core.EventKind{core.KindChunk, core.KindError}, down.Kinds())
	assert.Equal(t, core.ErrorEvent{Message: ProcessingErrorMessage}, down.Events()[1])
	assert.Equal(t, core.KindError, res.Terminal)

	msgs, err := f.convs.ListMessages(context.Background(), f.sess.ConversationID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRelay_UpstreamErrorFrameIsTerminal(t *testing.T) {
	f := newFixture(t)
	down := testutil.NewRecorder()
	body := testutil.NewStreamBuilder().
		TurnStart(1).
		Chunk("a").
		Error("LLM service timeout").
		Chunk("ignored").
		End().
		Bytes()

	res, err := f.relay.Run(context.Background(), f.sess, bytes.NewReader(body), down)
	require.NoError(t, err)
	f.relay.Wait()

	assert.Equal(t, []core.EventKind{core.KindTurnStart, core.KindChunk, core.KindError}, down.Kinds())
	assert.Equal(t, core.ErrorEvent{Message: "LLM service timeout"}, down.Events()[2])
	assert.Equal(t, core.KindError, res.Terminal)
}

func TestRelay_ExactlyOneTerminal(t *testing.T) {
	f := newFixture(t)
	down := testutil.NewRecorder()
	body := testutil.NewStreamBuilder().Chunk("a").End().End().Error("late").Bytes()

	_, err := f.relay.Run(context.Background(), f.sess, bytes.NewReader(body), down)
	require.NoError(t, err)
	f.relay.Wait()

	terminals := 0
	for _, ev := range down.Events() {
		if ev != nil && core.IsTerminal(ev) {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)
	kinds := down.Kinds()
	assert.Equal(t, core.KindEnd, kinds[len(kinds)-1])
}

func TestRelay_Ephemeral(t *testing.T) {
	f := newFixture(t)
	down := testutil.NewRecorder()
	body := testutil.NewStreamBuilder().Chunk("scratch").End().Consolidation("x", "y").Bytes()

	res, err := f.relay.Run(context.Background(), Session{UserID: "u1", Ephemeral: true}, bytes.NewReader(body), down)
	require.NoError(t, err)
	f.relay.Wait()

	assert.Empty(t, res.MessageID)
	assert.Contains(t, string(down.Frames()[1]), `"message_id":null`)

	_, err = f.mem.GetMemory(context.Background(), "u1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRelay_ConsolidationAfterEndIsDrained(t *testing.T) {
	f := newFixture(t)
	down := testutil.NewRecorder()
	pr, pw := io.Pipe()

	go func() {
		_, _ = pw.Write(testutil.NewStreamBuilder().Chunk("hi").End().Bytes())
	}()

	res, err := f.relay.Run(context.Background(), f.sess, pr, down)
	require.NoError(t, err)
	assert.Equal(t, core.KindEnd, res.Terminal)

	// The client stream is closed; consolidation arrives later.
	_, err = pw.Write(testutil.NewStreamBuilder().Chunk("not forwarded").Consolidation("Name: Ada", "").Bytes())
	require.NoError(t, err)
	require.NoError(t, pw.Close())
	f.relay.Wait()

	assert.Equal(t, []core.EventKind{core.KindChunk, core.KindEnd}, down.Kinds())
	ltm, err := f.mem.GetMemory(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Name: Ada", ltm.Content)
}

func TestRelay_DrainTimeoutClosesUpstream(t *testing.T) {
	f := newFixture(t)
	f.relay.opts.DrainTimeout = 20 * time.Millisecond
	pr, pw := io.Pipe()
	defer pw.Close()

	go func() {
		_, _ = pw.Write(testutil.NewStreamBuilder().End().Bytes())
	}()

	_, err := f.relay.Run(context.Background(), f.sess, pr, testutil.NewRecorder())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() { f.relay.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not stop after its timeout")
	}
}

func TestRelay_DownstreamFailureAbandons(t *testing.T) {
	f := newFixture(t)
	down := testutil.NewRecorder().FailAfter(1)
	upstream := &closeTracker{Reader: bytes.NewReader(
		testutil.NewStreamBuilder().Chunk("a").Chunk("b").Chunk("c").End().Bytes(),
	)}

	res, err := f.relay.Run(context.Background(), f.sess, upstream, down)
	require.ErrorIs(t, err, testutil.ErrDownstreamClosed)
	assert.True(t, upstream.closed.Load())
	assert.Len(t, down.Frames(), 1)
	assert.Empty(t, res.MessageID)

	msgs, err := f.convs.ListMessages(context.Background(), f.sess.ConversationID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRelay_ContextCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.relay.Run(ctx, f.sess, strings.NewReader("data: {\"chunk\":\"a\"}\n\n"), testutil.NewRecorder())
	assert.ErrorIs(t, err, context.Canceled)
}
