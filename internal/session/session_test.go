package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluque/prospecto/internal/registry"
)

// fakeSearcher returns a fixed result set for every query.
type fakeSearcher struct {
	results []registry.Product
	calls   int
}

func (f *fakeSearcher) Search(_ context.Context, _ string) []registry.Product {
	f.calls++
	return f.results
}

// fakeFetcher serves leaflet text from a map and counts fetches per id.
type fakeFetcher struct {
	leaflets map[string]string
	calls    map[string]int
}

func newFakeFetcher(leaflets map[string]string) *fakeFetcher {
	return &fakeFetcher{leaflets: leaflets, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(_ context.Context, id string) (string, bool) {
	f.calls[id]++
	text, ok := f.leaflets[id]
	return text, ok
}

// fakeEngine echoes a scripted reply and records what it was asked.
type fakeEngine struct {
	reply      string
	err        error
	gotLeaflet string
	gotHistory []Message
}

func (f *fakeEngine) RunTurn(ctx context.Context, leaflet string, history []Message, cb StreamCallback) (string, error) {
	f.gotLeaflet = leaflet
	f.gotHistory = history
	if f.err != nil {
		return "", f.err
	}
	if cb != nil {
		if err := cb(ctx, f.reply); err != nil {
			return "", err
		}
	}
	return f.reply, nil
}

var twoProducts = []registry.Product{
	{Name: "IBUPROFENO CINFA 600 mg EFG", LabHolder: "Cinfa", RegistrationID: "12345"},
	{Name: "NEOBRUFEN 600 mg", LabHolder: "Mylan", RegistrationID: "67890"},
}

// groundedSession returns a session in Grounded state on product 12345.
func groundedSession(t *testing.T) *Session {
	t.Helper()

	s := newSession()
	_, err := s.Search(context.Background(), &fakeSearcher{results: twoProducts}, "Ibuprofeno")
	require.NoError(t, err)
	require.NoError(t, s.Select(context.Background(), newFakeFetcher(map[string]string{"12345": "Use with caution."}), "12345"))
	return s
}

func TestSearch_EmptyQueryRejected(t *testing.T) {
	t.Parallel()

	s := newSession()
	_, err := s.Search(context.Background(), &fakeSearcher{}, "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Equal(t, StateIdle, s.State())
}

func TestSearch_TransitionsToBrowsing(t *testing.T) {
	t.Parallel()

	s := newSession()
	results, err := s.Search(context.Background(), &fakeSearcher{results: twoProducts}, "Ibuprofeno")

	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, StateBrowsing, s.State())
}

func TestSearch_ZeroResultsIsIdle(t *testing.T) {
	t.Parallel()

	s := newSession()
	results, err := s.Search(context.Background(), &fakeSearcher{}, "nosuchdrug")

	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, StateIdle, s.State())
}

func TestSearch_AlwaysClearsEverything(t *testing.T) {
	t.Parallel()

	s := groundedSession(t)
	engine := &fakeEngine{reply: "From the leaflet: yes."}
	_, err := s.SendMessage(context.Background(), engine, "Can I drive?", nil)
	require.NoError(t, err)
	require.Len(t, s.Transcript(), 2)

	// Repeated searches: no residual leaflet or transcript may survive any
	// of them, even with an identical query.
	searcher := &fakeSearcher{results: twoProducts}
	for i := 0; i < 3; i++ {
		_, err := s.Search(context.Background(), searcher, "Ibuprofeno")
		require.NoError(t, err)

		assert.Empty(t, s.Transcript(), "search %d left transcript entries", i+1)
		_, grounded := s.Leaflet()
		assert.False(t, grounded, "search %d left a leaflet", i+1)
		assert.Empty(t, s.SelectedID(), "search %d left a selection", i+1)
		assert.Equal(t, StateBrowsing, s.State())
	}
}

func TestSelect_UnknownProduct(t *testing.T) {
	t.Parallel()

	s := newSession()
	_, err := s.Search(context.Background(), &fakeSearcher{results: twoProducts}, "Ibuprofeno")
	require.NoError(t, err)

	err = s.Select(context.Background(), newFakeFetcher(nil), "99999")
	assert.ErrorIs(t, err, ErrUnknownProduct)
}

func TestSelect_LoadsLeafletAndClearsTranscript(t *testing.T) {
	t.Parallel()

	s := groundedSession(t)
	assert.Equal(t, StateGrounded, s.State())

	text, ok := s.Leaflet()
	require.True(t, ok)
	assert.Equal(t, "Use with caution.", text)
	assert.Empty(t, s.Transcript())
	assert.Equal(t, "12345", s.SelectedID())
}

func TestSelect_SameIDIsNoOp(t *testing.T) {
	t.Parallel()

	s := newSession()
	_, err := s.Search(context.Background(), &fakeSearcher{results: twoProducts}, "Ibuprofeno")
	require.NoError(t, err)

	fetcher := newFakeFetcher(map[string]string{"12345": "Use with caution."})
	require.NoError(t, s.Select(context.Background(), fetcher, "12345"))

	engine := &fakeEngine{reply: "ok"}
	_, err = s.SendMessage(context.Background(), engine, "hello?", nil)
	require.NoError(t, err)

	// Re-selecting the same product must not fetch again nor reset the chat.
	require.NoError(t, s.Select(context.Background(), fetcher, "12345"))
	assert.Equal(t, 1, fetcher.calls["12345"], "repeat selection must not refetch")
	assert.Len(t, s.Transcript(), 2, "repeat selection must not clear the transcript")
}

func TestSelect_SwitchingProductsResetsChat(t *testing.T) {
	t.Parallel()

	s := newSession()
	_, err := s.Search(context.Background(), &fakeSearcher{results: twoProducts}, "Ibuprofeno")
	require.NoError(t, err)

	fetcher := newFakeFetcher(map[string]string{
		"12345": "Leaflet A",
		"67890": "Leaflet B",
	})
	require.NoError(t, s.Select(context.Background(), fetcher, "12345"))
	_, err = s.SendMessage(context.Background(), &fakeEngine{reply: "ok"}, "q", nil)
	require.NoError(t, err)

	require.NoError(t, s.Select(context.Background(), fetcher, "67890"))

	text, ok := s.Leaflet()
	require.True(t, ok)
	assert.Equal(t, "Leaflet B", text)
	assert.Empty(t, s.Transcript(), "switching products must clear the transcript")
}

func TestSelect_AbsentLeaflet(t *testing.T) {
	t.Parallel()

	s := newSession()
	_, err := s.Search(context.Background(), &fakeSearcher{results: twoProducts}, "Ibuprofeno")
	require.NoError(t, err)

	fetcher := newFakeFetcher(nil) // no leaflets at all
	err = s.Select(context.Background(), fetcher, "12345")
	assert.ErrorIs(t, err, ErrLeafletUnavailable)

	// Ungrounded, but the selection pointer records the attempt.
	assert.Equal(t, StateBrowsing, s.State())
	assert.Equal(t, "12345", s.SelectedID())

	// Repeating the selection reports unavailability without retrying.
	err = s.Select(context.Background(), fetcher, "12345")
	assert.ErrorIs(t, err, ErrLeafletUnavailable)
	assert.Equal(t, 1, fetcher.calls["12345"], "repeat selection must not retry the fetch")

	// Chat stays unavailable.
	_, err = s.SendMessage(context.Background(), &fakeEngine{reply: "x"}, "q", nil)
	assert.ErrorIs(t, err, ErrNotGrounded)
}

func TestClearChat_KeepsLeafletAndSelection(t *testing.T) {
	t.Parallel()

	s := groundedSession(t)
	_, err := s.SendMessage(context.Background(), &fakeEngine{reply: "ok"}, "q", nil)
	require.NoError(t, err)

	s.ClearChat()

	assert.Empty(t, s.Transcript())
	assert.Equal(t, StateGrounded, s.State())
	assert.Equal(t, "12345", s.SelectedID())
}

func TestSendMessage_RequiresGrounding(t *testing.T) {
	t.Parallel()

	s := newSession()
	_, err := s.SendMessage(context.Background(), &fakeEngine{reply: "x"}, "q", nil)
	assert.ErrorIs(t, err, ErrNotGrounded)
	assert.Empty(t, s.Transcript())
}

func TestSendMessage_TranscriptGrowsByTwoPerTurn(t *testing.T) {
	t.Parallel()

	s := groundedSession(t)

	for k := 1; k <= 5; k++ {
		reply := fmt.Sprintf("answer %d", k)
		got, err := s.SendMessage(context.Background(), &fakeEngine{reply: reply}, fmt.Sprintf("question %d", k), nil)
		require.NoError(t, err)
		assert.Equal(t, reply, got)
		assert.Len(t, s.Transcript(), 2*k)
	}

	transcript := s.Transcript()
	assert.Equal(t, RoleUser, transcript[0].Role)
	assert.Equal(t, RoleAssistant, transcript[1].Role)
	assert.Equal(t, "question 1", transcript[0].Content)
	assert.Equal(t, "answer 1", transcript[1].Content)
}

func TestSendMessage_FailedTurnKeepsUserMessageOnly(t *testing.T) {
	t.Parallel()

	s := groundedSession(t)

	_, err := s.SendMessage(context.Background(), &fakeEngine{reply: "ok"}, "first", nil)
	require.NoError(t, err)

	turnErr := errors.New("model unavailable")
	_, err = s.SendMessage(context.Background(), &fakeEngine{err: turnErr}, "second", nil)
	require.ErrorIs(t, err, turnErr)

	// 2k-1: the failing turn keeps its user message and commits no reply.
	transcript := s.Transcript()
	require.Len(t, transcript, 3)
	assert.Equal(t, RoleUser, transcript[2].Role)
	assert.Equal(t, "second", transcript[2].Content)
}

func TestSendMessage_EnginePayload(t *testing.T) {
	t.Parallel()

	s := groundedSession(t)
	engine := &fakeEngine{reply: "ok"}

	_, err := s.SendMessage(context.Background(), engine, "Can I take this while pregnant?", nil)
	require.NoError(t, err)

	assert.Equal(t, "Use with caution.", engine.gotLeaflet)
	require.NotEmpty(t, engine.gotHistory)
	last := engine.gotHistory[len(engine.gotHistory)-1]
	assert.Equal(t, RoleUser, last.Role)
	assert.Equal(t, "Can I take this while pregnant?", last.Content)
}

func TestSendMessage_StreamsFragmentsToCallback(t *testing.T) {
	t.Parallel()

	s := groundedSession(t)
	var fragments []string
	cb := func(_ context.Context, fragment string) error {
		fragments = append(fragments, fragment)
		return nil
	}

	got, err := s.SendMessage(context.Background(), &fakeEngine{reply: "No information found."}, "q", cb)
	require.NoError(t, err)
	assert.Equal(t, "No information found.", got)
	assert.Equal(t, []string{"No information found."}, fragments)
}
