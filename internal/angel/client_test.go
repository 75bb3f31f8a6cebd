package angel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/angel-console/internal/domain"
)

func signedIn() *memTokens {
	return &memTokens{pair: domain.TokenPair{AccessToken: "tok", RefreshToken: "ref"}}
}

func TestClassifiedFailuresNotifyOnce(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    Kind
		message string
	}{
		{"rate limit", http.StatusTooManyRequests, `{"detail":"Slow down"}`, KindRateLimit, "Slow down"},
		{"validation", http.StatusUnprocessableEntity, `{"message":"Title too long","code":"VALIDATION_ERROR"}`, KindInvalidInput, "Title too long"},
		{"server", http.StatusInternalServerError, `{"detail":"stack trace here"}`, KindServer, userMessages[KindServer]},
		{"code wins over status", http.StatusBadRequest, `{"error":{"code":"RATE_LIMITED","message":"later"}}`, KindRateLimit, "later"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			client, notifier := newTestClient(t, srv, signedIn())
			_, err := client.CreateSession(context.Background(), "My venture")
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Equal(t, tt.message, UserMessage(err))

			notices := notifier.all()
			require.Len(t, notices, 1)
			assert.Equal(t, tt.kind, notices[0].Kind)
			assert.Empty(t, notices[0].Redirect)
		})
	}
}

func TestNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	client, notifier := newTestClient(t, srv, signedIn())
	srv.Close()

	_, err := client.ListSessions(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Len(t, notifier.all(), 1)
}

func TestForbiddenEndsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	tokens := signedIn()
	client, notifier := newTestClient(t, srv, tokens)
	_, err := client.ListSessions(context.Background())
	assert.True(t, IsUnauthorized(err))

	pair, _ := tokens.snapshot()
	assert.False(t, pair.Valid())
	notices := notifier.all()
	require.Len(t, notices, 1)
	assert.Equal(t, "/login", notices[0].Redirect)
}

func TestSignInStoresSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		fmt.Fprint(w, `{"result":{"session":{"access_token":"a1","refresh_token":"r1"}}}`)
	}))
	defer srv.Close()

	tokens := &memTokens{}
	client, _ := newTestClient(t, srv, tokens)
	pair, err := client.SignIn(context.Background(), Credentials{Email: "a@b.co", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "a1", pair.AccessToken)

	stored, _ := tokens.snapshot()
	assert.Equal(t, pair, stored)
}

func TestSignInBadCredentials(t *testing.T) {
	var refreshes int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh-token" {
			refreshes++
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := signedIn()
	client, notifier := newTestClient(t, srv, tokens)
	_, err := client.SignIn(context.Background(), Credentials{Email: "a@b.co", Password: "bad"})
	require.Error(t, err)
	assert.Equal(t, KindInvalidInput, KindOf(err))
	assert.Zero(t, refreshes)

	_, clears := tokens.snapshot()
	assert.Zero(t, clears)
	notices := notifier.all()
	require.Len(t, notices, 1)
	assert.Empty(t, notices[0].Redirect)
}

func TestSignInMissingFieldsNoNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	client, notifier := newTestClient(t, srv, &memTokens{})
	_, err := client.SignIn(context.Background(), Credentials{Email: " "})
	assert.Equal(t, KindInvalidInput, KindOf(err))
	assert.Len(t, notifier.all(), 1)
}

func chatServer(t *testing.T, result string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"result":%s}`, result)
	}))
}

func TestChatOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   Outcome
	}{
		{
			"next question",
			`{"reply":"Q?","progress":{"phase":"KYC","answered":6,"total":20,"percent":30}}`,
			NextQuestion{},
		},
		{
			"kyc to business plan",
			`{"reply":"Q?","transition_phase":"KYC_TO_BUSINESS_PLAN","progress":{"phase":"BUSINESS_PLAN","answered":0,"total":30,"percent":0}}`,
			KYCToBusinessPlan{},
		},
		{
			"plan to roadmap",
			`{"reply":"done","transition_phase":"PLAN_TO_ROADMAP","business_plan_summary":"Summary","progress":{"phase":"PLAN_TO_ROADMAP_TRANSITION","answered":30,"total":30,"percent":100}}`,
			PlanToRoadmap{Summary: "Summary"},
		},
		{
			"roadmap generated",
			`{"reply":"","transition_phase":"ROADMAP_GENERATED","roadmap_content":"Step 1","progress":{"phase":"ROADMAP","answered":0,"total":0,"percent":0}}`,
			RoadmapGenerated{Roadmap: "Step 1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := chatServer(t, tt.result)
			defer srv.Close()

			client, _ := newTestClient(t, srv, signedIn())
			reply, err := client.Chat(context.Background(), "s1", "answer")
			require.NoError(t, err)
			assert.Equal(t, tt.want, reply.Outcome)
		})
	}
}

func TestChatRejectsUnknownTransition(t *testing.T) {
	srv := chatServer(t, `{"reply":"x","transition_phase":"TELEPORT","progress":{"phase":"KYC","answered":1,"total":2,"percent":50}}`)
	defer srv.Close()

	client, notifier := newTestClient(t, srv, signedIn())
	_, err := client.Chat(context.Background(), "s1", "answer")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Equal(t, KindServer, KindOf(err))
	assert.Len(t, notifier.all(), 1)
}

func TestChatRejectsUnknownPhase(t *testing.T) {
	srv := chatServer(t, `{"reply":"x","progress":{"phase":"MARKETING","answered":1,"total":2,"percent":50}}`)
	defer srv.Close()

	client, _ := newTestClient(t, srv, signedIn())
	_, err := client.Chat(context.Background(), "s1", "answer")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestChatClampsPercent(t *testing.T) {
	srv := chatServer(t, `{"reply":"x","progress":{"phase":"KYC","answered":1,"total":2,"percent":140,
		"phase_breakdown":{"KYC":{"answered":1,"total":2,"percent":-3}},
		"overall_progress":{"answered":1,"total":50,"percent":2.4}}}`)
	defer srv.Close()

	client, _ := newTestClient(t, srv, signedIn())
	reply, err := client.Chat(context.Background(), "s1", "answer")
	require.NoError(t, err)
	assert.Equal(t, 100, reply.Progress.Percent)
	require.Len(t, reply.Progress.PhaseBreakdown, 1)
	assert.Equal(t, 0, reply.Progress.PhaseBreakdown[0].Percent)
	require.NotNil(t, reply.Progress.Overall)
	assert.Equal(t, 2, reply.Progress.Overall.Percent)
}

func TestDecisionApproveReturnsRoadmap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/angel/sessions/s1/transition-decision", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"decision":"approve"}`, string(b))
		fmt.Fprint(w, `{"result":{"roadmap_content":"Roadmap","progress":{"phase":"ROADMAP","answered":0,"total":0,"percent":0}}}`)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv, signedIn())
	reply, err := client.TransitionDecision(context.Background(), "s1", DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, RoadmapGenerated{Roadmap: "Roadmap"}, reply.Outcome)
}

func TestUploadBusinessPlanIsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		assert.Equal(t, "plan.txt", hdr.Filename)
		assert.Equal(t, "my plan", string(b))
		fmt.Fprint(w, `{"result":{"reply":"Thanks","progress":{"phase":"BUSINESS_PLAN","answered":12,"total":30,"percent":40}}}`)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv, signedIn())
	reply, err := client.UploadBusinessPlan(context.Background(), "s1", "plan.txt", strings.NewReader("my plan"))
	require.NoError(t, err)
	assert.Equal(t, 12, reply.Progress.Answered)
}

func TestCurrentTaskNullMeansDone(t *testing.T) {
	srv := chatServer(t, `{"task":null}`)
	defer srv.Close()

	client, _ := newTestClient(t, srv, signedIn())
	task, err := client.CurrentTask(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestAgentReplyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/specialized-agents/provider-table", r.URL.Path)
		fmt.Fprint(w, `{"result":{"summary":"Three providers","providers":[{"name":"A"}]}}`)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv, signedIn())
	reply, err := client.ProviderTable(context.Background(), AgentRequest{SessionID: "s1", TaskID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "Three providers", reply.Content)
	assert.Contains(t, string(reply.Data), "providers")
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)})
	signed, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)

	got, ok := TokenExpiry(signed)
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, ok = TokenExpiry("not-a-jwt")
	assert.False(t, ok)
}
