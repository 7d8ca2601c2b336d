package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"challenge-service/internal/abuse"
	"challenge-service/internal/app"
	"challenge-service/internal/domain"
	"challenge-service/internal/infra/memory"
	"challenge-service/internal/ratelimit"
	transport "challenge-service/internal/transport/http"
)

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func makeQuestions(n int) []domain.QuizQuestion {
	questions := make([]domain.QuizQuestion, n)
	for i := range questions {
		questions[i] = domain.QuizQuestion{
			Text:         "Question " + strconv.Itoa(i),
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: i % 4,
			Explanation:  "because",
		}
	}
	return questions
}

type testServer struct {
	*httptest.Server
	store *memory.SessionStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewSessionStore()
	log := testLog()

	source := memory.NewStaticQuestionSource(map[string][]domain.QuizQuestion{
		"topic-1": makeQuestions(40),
	})
	assembler := app.NewPoolAssembler(source, memory.DisabledGenerator{}, time.Second, log)
	limiter := ratelimit.NewLimiter(memory.NewCounter(), log)
	detector := abuse.NewDetector(store, store, log)
	rewards := app.NewRewardIssuer(store, detector, log)
	service := app.NewChallengeService(store, assembler, limiter, detector, rewards, log)

	auth := memory.NewStaticAuthenticator(map[string]string{
		"token-1": "u1",
		"token-2": "u2",
	})

	mux := http.NewServeMux()
	transport.NewHandler(service, auth, log).Register(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &testServer{Server: server, store: store}
}

func (ts *testServer) do(t *testing.T, token, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, raw
}

func (ts *testServer) startSession(t *testing.T, token string) string {
	t.Helper()
	resp, raw := ts.do(t, token, http.MethodPost, "/challenge-sessions/start", map[string]string{
		"topicId":    "topic-1",
		"topicName":  "Biology",
		"difficulty": "beginner",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d, body %s", resp.StatusCode, raw)
	}
	var payload struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode start response: %v", err)
	}
	if payload.Session.ID == "" {
		t.Fatalf("start response carries no session id: %s", raw)
	}
	return payload.Session.ID
}

func TestMissingCredentialsAreRejected(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, "", http.MethodPost, "/challenge-sessions/start", map[string]string{
		"topicName": "Biology", "difficulty": "beginner",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	resp, _ = ts.do(t, "bogus", http.MethodGet, "/challenge-sessions/some-id", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status with unknown token = %d, want 401", resp.StatusCode)
	}
}

func TestStartResponseWithholdsAnswerKeys(t *testing.T) {
	ts := newTestServer(t)

	resp, raw := ts.do(t, "token-1", http.MethodPost, "/challenge-sessions/start", map[string]string{
		"topicId": "topic-1", "topicName": "Biology", "difficulty": "beginner",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body %s", resp.StatusCode, raw)
	}

	body := string(raw)
	if strings.Contains(body, "correctIndex") || strings.Contains(body, "explanation") {
		t.Fatalf("start response leaks answer material: %s", body)
	}

	var payload struct {
		Session app.StartResult `json:"session"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Session.TotalQuestions != 15 || payload.Session.HeartsRemaining != 3 {
		t.Fatalf("unexpected session shape: %+v", payload.Session)
	}
	if len(payload.Session.Question.Options) != 4 {
		t.Fatalf("first question has %d options", len(payload.Session.Question.Options))
	}
}

func TestStartValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, "token-1", http.MethodPost, "/challenge-sessions/start", map[string]string{
		"topicName": "Biology", "difficulty": "impossible",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown difficulty status = %d, want 400", resp.StatusCode)
	}

	resp, _ = ts.do(t, "token-1", http.MethodPost, "/challenge-sessions/start", map[string]string{
		"difficulty": "beginner",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing topicName status = %d, want 400", resp.StatusCode)
	}
}

func TestStartFailsLoudlyOnUnknownTopic(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, "token-1", http.MethodPost, "/challenge-sessions/start", map[string]string{
		"topicId": "no-such-topic", "topicName": "Mystery", "difficulty": "beginner",
	})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502 when the pool cannot be assembled", resp.StatusCode)
	}
}

func TestAnswerFlow(t *testing.T) {
	ts := newTestServer(t)
	id := ts.startSession(t, "token-1")

	// The session's own record tells us the right answer for question one.
	stored, err := ts.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	right := stored.Questions[0].CorrectIndex

	resp, raw := ts.do(t, "token-1", http.MethodPost, fmt.Sprintf("/challenge-sessions/%s/answer", id), map[string]int{
		"answerIndex": right,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("answer status = %d, body %s", resp.StatusCode, raw)
	}

	var result app.SubmitResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.IsCorrect || result.CorrectAnswers != 1 || result.CurrentQuestion != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.NextQuestion == nil {
		t.Fatalf("active session must return the next question")
	}
	if result.Explanation == "" {
		t.Fatalf("answered question's explanation must be revealed")
	}

	// Wrong answer costs a heart.
	stored, _ = ts.store.Get(context.Background(), id)
	wrong := (stored.Questions[1].CorrectIndex + 1) % 4
	resp, raw = ts.do(t, "token-1", http.MethodPost, fmt.Sprintf("/challenge-sessions/%s/answer", id), map[string]int{
		"answerIndex": wrong,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("answer status = %d, body %s", resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.IsCorrect || result.HeartsRemaining != 2 {
		t.Fatalf("wrong answer should cost a heart: %+v", result)
	}
}

func TestAnswerValidation(t *testing.T) {
	ts := newTestServer(t)
	id := ts.startSession(t, "token-1")

	resp, _ := ts.do(t, "token-1", http.MethodPost, fmt.Sprintf("/challenge-sessions/%s/answer", id), map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing answerIndex status = %d, want 400", resp.StatusCode)
	}

	resp, _ = ts.do(t, "token-1", http.MethodPost, fmt.Sprintf("/challenge-sessions/%s/answer", id), map[string]int{
		"answerIndex": 9,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("out-of-range answerIndex status = %d, want 400", resp.StatusCode)
	}
}

func TestOtherUsersSessionLooksMissing(t *testing.T) {
	ts := newTestServer(t)
	id := ts.startSession(t, "token-1")

	resp, raw := ts.do(t, "token-2", http.MethodGet, "/challenge-sessions/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign get status = %d, want 404", resp.StatusCode)
	}
	if strings.Contains(string(raw), "owner") {
		t.Fatalf("response must not reveal that the session exists: %s", raw)
	}

	resp, _ = ts.do(t, "token-2", http.MethodPost, fmt.Sprintf("/challenge-sessions/%s/answer", id), map[string]int{
		"answerIndex": 0,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign answer status = %d, want 404", resp.StatusCode)
	}
}

func TestGetReturnsSessionWithoutKeys(t *testing.T) {
	ts := newTestServer(t)
	id := ts.startSession(t, "token-1")

	resp, raw := ts.do(t, "token-1", http.MethodGet, "/challenge-sessions/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, body %s", resp.StatusCode, raw)
	}
	if strings.Contains(string(raw), "correctIndex") {
		t.Fatalf("session view leaks answer keys: %s", raw)
	}
	var payload struct {
		Session app.SessionView `json:"session"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Session.Status != domain.StatusActive || payload.Session.Answers == nil {
		t.Fatalf("unexpected view: %+v", payload.Session)
	}
}

func TestStartRateLimitReturns429WithRetryAfter(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < ratelimit.StartSessionLimit; i++ {
		ts.startSession(t, "token-1")
	}

	resp, raw := ts.do(t, "token-1", http.MethodPost, "/challenge-sessions/start", map[string]string{
		"topicId": "topic-1", "topicName": "Biology", "difficulty": "beginner",
	})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429, body %s", resp.StatusCode, raw)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("429 must carry a Retry-After header")
	}
	var body struct {
		Error             string `json:"error"`
		RetryAfterSeconds int    `json:"retryAfterSeconds"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.RetryAfterSeconds <= 0 {
		t.Fatalf("retryAfterSeconds = %d, want a positive backoff", body.RetryAfterSeconds)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, "token-1", http.MethodGet, "/challenge-sessions/does-not-exist", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
