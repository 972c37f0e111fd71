package connector

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/policy"
)

type fakeSearcher struct {
	result string
	err    error
	calls  []string
}

func (f *fakeSearcher) Call(_ context.Context, query string) (string, error) {
	f.calls = append(f.calls, query)
	return f.result, f.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func step(action string, params map[string]any) model.Step {
	return model.Step{
		ActionType:  action,
		Description: "test step",
		Parameters:  params,
	}
}

func TestRegistryUnknownAction(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("teleport")
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestRegistryRoundTrip(t *testing.T) {
	r := NewRegistry()
	r.Register(NewPayment(discard()))

	c, err := r.Get(policy.ActionPayment)
	require.NoError(t, err)
	assert.Equal(t, policy.ActionPayment, c.ActionType())
	assert.Equal(t, []string{policy.ActionPayment}, r.Actions())
}

func TestResearchExecute(t *testing.T) {
	fs := &fakeSearcher{result: "three relevant articles"}
	r := NewResearchWith(fs, discard())

	s := step(policy.ActionResearch, map[string]any{"query": "laptop stands"})
	require.NoError(t, r.Validate(s))

	out, err := r.Execute(context.Background(), Request{Step: s, Mode: model.ModeSimulation})
	require.NoError(t, err)
	assert.Equal(t, "laptop stands", out["query"])
	assert.Equal(t, "three relevant articles", out["findings"])
	assert.Equal(t, []string{"laptop stands"}, fs.calls)
}

func TestResearchQueryFallsBackToDescription(t *testing.T) {
	r := NewResearchWith(&fakeSearcher{result: "x"}, discard())
	s := step(policy.ActionResearch, nil)
	s.Description = "find good office chairs"
	require.NoError(t, r.Validate(s))

	out, err := r.Execute(context.Background(), Request{Step: s})
	require.NoError(t, err)
	assert.Equal(t, "find good office chairs", out["query"])
}

func TestResearchValidateMissingQuery(t *testing.T) {
	r := NewResearchWith(&fakeSearcher{}, discard())
	s := step(policy.ActionResearch, nil)
	s.Description = "   "

	var ve *ValidationError
	require.ErrorAs(t, r.Validate(s), &ve)
	assert.Equal(t, "query", ve.Field)
}

func TestPurchaseProductNeverBuys(t *testing.T) {
	fs := &fakeSearcher{result: "review roundup"}
	p := NewPurchase(fs, discard())

	s := step(policy.ActionPurchase, map[string]any{"query": "standing desk"})
	out, err := p.Execute(context.Background(), Request{Step: s, Mode: model.ModeExecution})
	require.NoError(t, err)
	assert.Equal(t, false, out["purchased"])
	assert.Equal(t, "product", out["type"])
	require.Len(t, fs.calls, 1)
	assert.Equal(t, "standing desk product review price", fs.calls[0])
}

func TestPurchaseCryptoBranch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":64250.5,"usd_24h_change":-1.2}}`))
	}))
	defer srv.Close()

	p := NewPurchase(&fakeSearcher{}, discard())
	p.baseURL = srv.URL

	s := step(policy.ActionPurchase, map[string]any{"query": "what is the bitcoin price"})
	out, err := p.Execute(context.Background(), Request{Step: s})
	require.NoError(t, err)
	assert.Equal(t, "crypto", out["type"])
	assert.Equal(t, false, out["purchased"])

	price := out["price_data"].(map[string]any)
	assert.Equal(t, "bitcoin", price["coin"])
	assert.Equal(t, 64250.5, price["price_usd"])
}

func TestEmailValidate(t *testing.T) {
	e := NewEmail("", "steward@example.com", discard())

	var ve *ValidationError
	require.ErrorAs(t, e.Validate(step(policy.ActionEmail, nil)), &ve)
	assert.Equal(t, "to", ve.Field)

	require.ErrorAs(t, e.Validate(step(policy.ActionEmail, map[string]any{"to": "not-an-email"})), &ve)
	require.NoError(t, e.Validate(step(policy.ActionEmail, map[string]any{"to": "mark@example.com"})))
}

func TestEmailSimulationReturnsDraft(t *testing.T) {
	e := NewEmail("key-present", "steward@example.com", discard())

	s := step(policy.ActionEmail, map[string]any{
		"to":      "mark@example.com",
		"subject": "Vendor options",
		"message": "Here is what I found.",
	})
	out, err := e.Execute(context.Background(), Request{Step: s, Mode: model.ModeSimulation})
	require.NoError(t, err)
	assert.Equal(t, true, out["simulated"])
	assert.Equal(t, "Vendor options", out["subject"])
}

func TestEmailIncorporatesDependencyFindings(t *testing.T) {
	e := NewEmail("", "steward@example.com", discard())

	s := step(policy.ActionEmail, map[string]any{
		"to":      "mark@example.com",
		"message": "Summary below.",
	})
	out, err := e.Execute(context.Background(), Request{
		Step: s,
		Mode: model.ModeExecution,
		Deps: map[int]map[string]any{
			1: {"findings": "Top three CRM vendors compared."},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, out["body"], "Summary below.")
	assert.Contains(t, out["body"], "Top three CRM vendors compared.")
	// No API key configured, so delivery stays simulated.
	assert.Equal(t, true, out["simulated"])
}

func TestEmailSendsInExecutionMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_123"}`))
	}))
	defer srv.Close()

	e := NewEmail("secret", "steward@example.com", discard())
	e.endpoint = srv.URL

	s := step(policy.ActionEmail, map[string]any{"to": "mark@example.com", "subject": "Hi"})
	out, err := e.Execute(context.Background(), Request{Step: s, Mode: model.ModeExecution})
	require.NoError(t, err)
	assert.Equal(t, false, out["simulated"])
	assert.Equal(t, "msg_123", out["message_id"])
}

func TestPaymentAlwaysSimulated(t *testing.T) {
	p := NewPayment(discard())

	s := step(policy.ActionPayment, map[string]any{"amount": 1500.0, "recipient": "Acme Corp"})
	require.NoError(t, p.Validate(s))

	out, err := p.Execute(context.Background(), Request{Step: s, Mode: model.ModeExecution})
	require.NoError(t, err)
	assert.Equal(t, "simulated", out["status"])
	assert.Equal(t, false, out["settled"])
	assert.Equal(t, 1500.0, out["amount"])
	assert.NotEmpty(t, out["reference"])
}

func TestPaymentValidateAmount(t *testing.T) {
	p := NewPayment(discard())

	var ve *ValidationError
	require.ErrorAs(t, p.Validate(step(policy.ActionPayment, nil)), &ve)
	require.ErrorAs(t, p.Validate(step(policy.ActionPayment, map[string]any{"amount": -5.0})), &ve)
	assert.Equal(t, "amount", ve.Field)
}

func TestHTTPRequestValidate(t *testing.T) {
	h := NewHTTPRequest(1<<16, discard())

	var ve *ValidationError
	require.ErrorAs(t, h.Validate(step(policy.ActionHTTPRequest, nil)), &ve)
	require.ErrorAs(t, h.Validate(step(policy.ActionHTTPRequest, map[string]any{"url": "ftp://host/file"})), &ve)
	require.ErrorAs(t, h.Validate(step(policy.ActionHTTPRequest, map[string]any{
		"url": "https://example.com", "method": "TRACE",
	})), &ve)
	require.NoError(t, h.Validate(step(policy.ActionHTTPRequest, map[string]any{
		"url": "https://example.com", "method": "delete",
	})))
}

func TestHTTPRequestMutatingSimulated(t *testing.T) {
	h := NewHTTPRequest(1<<16, discard())

	s := step(policy.ActionHTTPRequest, map[string]any{
		"url": "https://example.com/orders", "method": "POST",
	})
	out, err := h.Execute(context.Background(), Request{Step: s, Mode: model.ModeSimulation})
	require.NoError(t, err)
	assert.Equal(t, true, out["simulated"])
	assert.Equal(t, "POST", out["method"])
}

func TestHTTPRequestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("pong"))
	}))
	defer srv.Close()

	h := NewHTTPRequest(1<<16, discard())
	s := step(policy.ActionHTTPRequest, map[string]any{"url": srv.URL})
	out, err := h.Execute(context.Background(), Request{Step: s, Mode: model.ModeSimulation})
	require.NoError(t, err)
	assert.Equal(t, 200, out["status_code"])
	assert.Equal(t, "pong", out["body"])
}
