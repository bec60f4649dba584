package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mercybot/mercybot/internal/auth"
	"github.com/mercybot/mercybot/internal/document"
	"github.com/mercybot/mercybot/internal/llm"
	"github.com/mercybot/mercybot/internal/memstore"
	"github.com/mercybot/mercybot/internal/model"
	"github.com/mercybot/mercybot/internal/service"
	"github.com/mercybot/mercybot/pkg/logger"
)

const testSecret = "router-test-secret-0123456789abcdef"

type stubLLM struct {
	reply  string
	err    error
	prompt string
}

func (s *stubLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) > 0 {
		s.prompt = req.Messages[len(req.Messages)-1].Content
	}
	if s.err != nil {
		return nil, s.err
	}
	return &llm.CompletionResponse{Content: s.reply}, nil
}

func (s *stubLLM) Name() string { return "stub" }

type testServer struct {
	handler       http.Handler
	users         *memstore.UserStore
	conversations *memstore.ConversationStore
	tokens        *auth.TokenService
}

type serverOption func(*serverOptions)

type serverOptions struct {
	llm           llm.Client
	extractor     document.Extractor
	checks        []Check
	chatBodyLimit int64
}

func withChatBodyLimit(n int64) serverOption {
	return func(o *serverOptions) { o.chatBodyLimit = n }
}

func withLLM(c llm.Client) serverOption {
	return func(o *serverOptions) { o.llm = c }
}

func withExtractor(e document.Extractor) serverOption {
	return func(o *serverOptions) { o.extractor = e }
}

func withChecks(checks ...Check) serverOption {
	return func(o *serverOptions) { o.checks = checks }
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	o := &serverOptions{
		llm: &stubLLM{reply: "Hi there"},
		extractor: document.ExtractorFunc(func(ctx context.Context, data []byte) (string, error) {
			return "extracted text", nil
		}),
	}
	for _, opt := range opts {
		opt(o)
	}

	log := logger.NewNop()
	users := memstore.NewUserStore()
	conversations := memstore.NewConversationStore()
	tokens := auth.NewTokenService(testSecret, auth.DefaultTTL)

	authSvc := service.NewAuthService(users, tokens, bcrypt.MinCost, log)
	manager := service.NewConversationManager(conversations, o.llm, log)
	bridge := document.NewBridge(o.extractor, document.DefaultMaxBytes)

	h := NewRouter(RouterConfig{
		Logger:            log,
		Tokens:            tokens,
		Users:             users,
		Auth:              NewAuthHandler(authSvc, CookieConfig{Name: "jwt", Secure: true, TTL: auth.DefaultTTL}, log),
		Chat:              NewChatHandler(manager, log),
		Upload:            NewUploadHandler(bridge, log),
		Health:            NewHealthHandler(o.checks...),
		CookieName:        "jwt",
		CORSOrigins:       []string{"https://*"},
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
		MaxChatBodyBytes:  o.chatBodyLimit,
	})

	return &testServer{
		handler:       h,
		users:         users,
		conversations: conversations,
		tokens:        tokens,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, prepare ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, p := range prepare {
		p(req)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(c) }
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

// registerAndLogin returns the session cookie of a fresh user.
func (s *testServer) registerAndLogin(t *testing.T, email string) *http.Cookie {
	t.Helper()
	creds := model.CredentialsRequest{Email: email, Password: "secret123"}

	rec := s.do(t, http.MethodPost, "/auth/register", creds)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/auth/login", creds)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, c := range rec.Result().Cookies() {
		if c.Name == "jwt" {
			return c
		}
	}
	t.Fatal("login did not set the session cookie")
	return nil
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestRouter_ChatFlow(t *testing.T) {
	s := newTestServer(t)
	cookie := s.registerAndLogin(t, "alice@example.com")

	rec := s.do(t, http.MethodPost, "/chat", model.ChatRequest{ChatID: "c1", Question: "Hello"}, withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Hi there", decode[model.ChatResponse](t, rec).Text)

	rec = s.do(t, http.MethodGet, "/chat/c1", nil, withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decode[model.Conversation](t, rec)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "c1", conv.ConversationID)
	assert.Equal(t, model.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "Hello", conv.Messages[0].Body)
	assert.Equal(t, model.RoleAI, conv.Messages[1].Role)
	assert.Equal(t, "Hi there", conv.Messages[1].Body)

	rec = s.do(t, http.MethodPost, "/chat", model.ChatRequest{ChatID: "c1", Question: "More"}, withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/chat", nil, withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code)
	convs := decode[[]model.Conversation](t, rec)
	require.Len(t, convs, 1)
	assert.Len(t, convs[0].Messages, 4)
}

func TestRouter_ChatRequiresAuth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/chat", model.ChatRequest{ChatID: "c1", Question: "Hello"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/chat", model.ChatRequest{ChatID: "c1", Question: "Hello"}, withBearer("not-a-token"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// a well-signed token for a user that does not exist
	token, err := s.tokens.Issue("deleted-user")
	require.NoError(t, err)
	rec = s.do(t, http.MethodPost, "/chat", model.ChatRequest{ChatID: "c1", Question: "Hello"}, withBearer(token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	convs, err := s.conversations.List(context.Background(), "deleted-user")
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestRouter_ChatValidation(t *testing.T) {
	s := newTestServer(t)
	cookie := s.registerAndLogin(t, "alice@example.com")

	rec := s.do(t, http.MethodPost, "/chat", model.ChatRequest{ChatID: "c1"}, withCookie(cookie))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/chat", model.ChatRequest{Question: "Hello"}, withCookie(cookie))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/chat", nil, withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]model.Conversation](t, rec))
}

func TestRouter_ChatNotFound(t *testing.T) {
	s := newTestServer(t)
	alice := s.registerAndLogin(t, "alice@example.com")
	bob := s.registerAndLogin(t, "bob@example.com")

	rec := s.do(t, http.MethodGet, "/chat/missing", nil, withCookie(alice))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/chat", model.ChatRequest{ChatID: "private", Question: "Hello"}, withCookie(alice))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/chat/private", nil, withCookie(bob))
	assert.Equal(t, http.StatusNotFound, rec.Code, "chats are scoped to their owner")
}

func TestRouter_ChatFallback(t *testing.T) {
	s := newTestServer(t, withLLM(&stubLLM{err: errors.New("quota exceeded")}))
	cookie := s.registerAndLogin(t, "alice@example.com")

	rec := s.do(t, http.MethodPost, "/chat", model.ChatRequest{ChatID: "c1", Question: "Hello"}, withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.FallbackReply, decode[model.ChatResponse](t, rec).Text)
	assert.NotContains(t, rec.Body.String(), "quota")
}

func TestRouter_LoginCookie(t *testing.T) {
	s := newTestServer(t)
	cookie := s.registerAndLogin(t, "alice@example.com")

	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, int(auth.DefaultTTL.Seconds()), cookie.MaxAge)

	userID, err := s.tokens.Verify(cookie.Value)
	require.NoError(t, err)
	u, err := s.users.GetByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, userID)
}

func TestRouter_TokenLoginAndCheck(t *testing.T) {
	s := newTestServer(t)
	creds := model.CredentialsRequest{Email: "alice@example.com", Password: "secret123"}
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/auth/register", creds).Code)

	rec := s.do(t, http.MethodPost, "/auth/token-login", creds)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
	body := decode[map[string]string](t, rec)
	require.NotEmpty(t, body["token"])

	rec = s.do(t, http.MethodGet, "/auth/check", nil, withBearer(body["token"]))
	require.Equal(t, http.StatusOK, rec.Code)
	check := decode[struct {
		Message string           `json:"message"`
		User    model.PublicUser `json:"user"`
	}](t, rec)
	assert.Equal(t, "Token valid", check.Message)
	assert.Equal(t, "alice@example.com", check.User.Email)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = s.do(t, http.MethodGet, "/auth/check", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_RegisterAndLoginErrors(t *testing.T) {
	s := newTestServer(t)
	creds := model.CredentialsRequest{Email: "alice@example.com", Password: "secret123"}

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/auth/register", creds).Code)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/auth/register", creds).Code)

	rec := s.do(t, http.MethodPost, "/auth/login", model.CredentialsRequest{Email: "alice@example.com", Password: "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())

	rec = s.do(t, http.MethodPost, "/auth/login", model.CredentialsRequest{Email: "alice@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/register", model.CredentialsRequest{Email: "bad", Password: "secret123"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_Logout(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/auth/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "jwt", cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
	assert.Less(t, cookies[0].MaxAge, 0)
}

func multipartUpload(t *testing.T, field, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	if contentType != "" {
		hdr.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload-pdf", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestRouter_UploadPDF(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, multipartUpload(t, "pdfFile", "doc.pdf", "application/pdf", []byte("%PDF-1.4 data")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "extracted text", body["text"])
	assert.Equal(t, "PDF processed successfully", body["message"])

	// sniffed when no type is declared
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, multipartUpload(t, "pdfFile", "doc.pdf", "", []byte("%PDF-1.4 data")))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_UploadRejections(t *testing.T) {
	var calls int
	s := newTestServer(t, withExtractor(document.ExtractorFunc(func(ctx context.Context, data []byte) (string, error) {
		calls++
		return "text", nil
	})))

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, multipartUpload(t, "pdfFile", "a.png", "image/png", []byte("png")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, multipartUpload(t, "otherField", "doc.pdf", "application/pdf", []byte("%PDF")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	oversize := append([]byte("%PDF-"), bytes.Repeat([]byte("a"), int(document.DefaultMaxBytes))...)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, multipartUpload(t, "pdfFile", "big.pdf", "application/pdf", oversize))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/upload-pdf", map[string]string{"not": "multipart"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Zero(t, calls, "rejected uploads never reach the extractor")
}

func TestRouter_UploadExtractionFailure(t *testing.T) {
	s := newTestServer(t, withExtractor(document.ExtractorFunc(func(ctx context.Context, data []byte) (string, error) {
		return "", errors.New("invalid xref")
	})))

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, multipartUpload(t, "pdfFile", "doc.pdf", "application/pdf", []byte("%PDF-broken")))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "Failed to process PDF", body["error"])
	assert.True(t, strings.Contains(body["details"], "invalid xref"))
}

func TestRouter_UploadStatus(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/upload-pdf", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t, withChecks(Check{Name: "store", Ping: func(ctx context.Context) error { return errors.New("down") }}))

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)

	rec := s.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "store unavailable", decode[map[string]string](t, rec)["reason"])

	s = newTestServer(t)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", nil).Code)
}

func TestRouter_ChatLargeDocumentText(t *testing.T) {
	stub := &stubLLM{reply: "Summary"}
	s := newTestServer(t, withLLM(stub))
	cookie := s.registerAndLogin(t, "alice@example.com")

	// larger than the small JSON cap used on /auth
	docText := strings.Repeat("lorem ipsum ", 100_000)
	require.Greater(t, len(docText), 1<<20)

	rec := s.do(t, http.MethodPost, "/chat", model.ChatRequest{ChatID: "c1", Question: "Summarize", PDFText: docText}, withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Summary", decode[model.ChatResponse](t, rec).Text)
	assert.Contains(t, stub.prompt, "Document Content:\n"+docText)

	conv, err := s.conversations.Get(context.Background(), mustUserID(t, s, "alice@example.com"), "c1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "Summarize", conv.Messages[0].Body, "document text is never stored")
}

func TestRouter_ChatBodyTooLarge(t *testing.T) {
	s := newTestServer(t, withChatBodyLimit(64<<10))
	cookie := s.registerAndLogin(t, "alice@example.com")

	rec := s.do(t, http.MethodPost, "/chat", model.ChatRequest{ChatID: "c1", Question: "Hi", PDFText: strings.Repeat("x", 128<<10)}, withCookie(cookie))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	convs, err := s.conversations.List(context.Background(), mustUserID(t, s, "alice@example.com"))
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestChatBodyLimit(t *testing.T) {
	assert.Equal(t, int64(2*document.DefaultMaxBytes+1<<20), ChatBodyLimit(0))
	assert.Equal(t, int64(2*(4<<20)+1<<20), ChatBodyLimit(4<<20))
	assert.Greater(t, ChatBodyLimit(document.DefaultMaxBytes), document.DefaultMaxBytes)
}

func TestRouter_ChatIDWithSlash(t *testing.T) {
	s := newTestServer(t)
	cookie := s.registerAndLogin(t, "alice@example.com")

	rec := s.do(t, http.MethodPost, "/chat", model.ChatRequest{ChatID: "notes/2024", Question: "Hello"}, withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/chat/notes%2F2024", nil, withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "notes/2024", decode[model.Conversation](t, rec).ConversationID)
}

func mustUserID(t *testing.T, s *testServer, email string) string {
	t.Helper()
	u, err := s.users.GetByEmail(context.Background(), email)
	require.NoError(t, err)
	return u.ID
}

func TestRouter_ChatRejectsNUL(t *testing.T) {
	s := newTestServer(t)
	cookie := s.registerAndLogin(t, "alice@example.com")

	rec := s.do(t, http.MethodPost, "/chat", model.ChatRequest{ChatID: "c1", Question: "a\x00b"}, withCookie(cookie))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/chat/c%001", nil, withCookie(cookie))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
