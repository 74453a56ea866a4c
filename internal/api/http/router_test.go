package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/escalation-service/internal/api/http/handlers"
	"github.com/spec-kit/escalation-service/internal/auth"
	"github.com/spec-kit/escalation-service/internal/config"
	"github.com/spec-kit/escalation-service/internal/cooldown"
	"github.com/spec-kit/escalation-service/internal/domain"
	"github.com/spec-kit/escalation-service/internal/events"
	"github.com/spec-kit/escalation-service/internal/ingest"
	"github.com/spec-kit/escalation-service/internal/observability"
	"github.com/spec-kit/escalation-service/internal/repository"
	"github.com/spec-kit/escalation-service/internal/service"
)

const internalToken = "internal-secret"

type testServer struct {
	app     *fiber.App
	signer  *auth.LinkSigner
	machine *service.EscalationService
	authSvc *service.AuthService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	issues := repository.NewMemoryIssueRepository()
	operators := repository.NewMemoryOperatorRepository()
	cooldowns := cooldown.NewMemoryStore(nil)
	signer, err := auth.NewLinkSigner("http-secret", nil, "https://status.example.com")
	require.NoError(t, err)

	dispatcher := events.NewInMemoryDispatcher()
	machine := service.NewEscalationService(service.EscalationDependencies{
		IssueRepo:   issues,
		Cooldowns:   cooldowns,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Window:      time.Hour,
		CooldownTTL: time.Hour,
	})
	access := service.NewAccessService(service.AccessDependencies{
		IssueRepo:  issues,
		Escalation: machine,
		Signer:     signer,
		Cooldowns:  cooldowns,
		Metrics:    metrics,
	})
	authSvc := service.NewAuthService(config.AuthConfig{JWTSecret: "jwt", AccessTokenTTLMinutes: 10, BcryptCost: 4}, operators, logger)

	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, 5*time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("escalation-service", "test", handlers.Dependency{Name: "postgres"}),
		Public:         handlers.NewPublicIssuesHandler(access),
		Issues:         handlers.NewOperatorIssuesHandler(access),
		Operators:      handlers.NewOperatorsHandler(authSvc),
		Ingest:         handlers.NewIngestHandler(ingest.NewProcessor(machine, logger)),
		AuthMiddleware: auth.NewAuthMiddleware(authSvc.TokenManager(), operators),
		InternalToken:  internalToken,
		Registry:       metrics.Registry(),
	})
	return &testServer{app: app, signer: signer, machine: machine, authSvc: authSvc}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func (s *testServer) openIssue(t *testing.T, orgID, check string) *domain.Issue {
	t.Helper()
	issue, err := s.machine.Open(context.Background(), service.OpenInput{
		OrganizationID: orgID,
		SiteID:         "site-1",
		CheckID:        check,
		Contacts: []domain.ContactInput{
			{Name: "Alice", Email: "alice@x.com"},
			{Name: "Bob", Email: "bob@x.com"},
		},
	})
	require.NoError(t, err)
	return issue
}

func (s *testServer) login(t *testing.T, orgID, email string, role domain.OperatorRole) string {
	t.Helper()
	_, err := s.authSvc.CreateOperator(context.Background(), service.CreateOperatorInput{
		OrganizationID: orgID, Name: "Op", Email: email, Password: "correct-horse", Role: role,
	})
	require.NoError(t, err)
	status, body := s.do(t, "POST", "/auth/operators/login", map[string]string{"email": email, "password": "correct-horse"}, nil)
	require.Equal(t, fiber.StatusOK, status)
	return body["data"].(map[string]any)["auth"].(map[string]any)["token"].(string)
}

func errorCode(body map[string]any) string {
	e, ok := body["error"].(map[string]any)
	if !ok {
		return ""
	}
	code, _ := e["code"].(string)
	return code
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "GET", "/health/live", nil, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "alive", body["status"])

	status, body = s.do(t, "GET", "/health/ready", nil, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "in_memory", body["dependencies"].(map[string]any)["postgres"])
}

func TestUnknownRouteRendersJSONError(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, "GET", "/nope", nil, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestPublicViewCapabilities(t *testing.T) {
	s := newTestServer(t)
	issue := s.openIssue(t, "org-1", "disk")

	status, body := s.do(t, "GET", "/public/issues/"+issue.Token, nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	caps := body["data"].(map[string]any)["capabilities"].(map[string]any)
	assert.Equal(t, false, caps["can_update"])
	assert.EqualValues(t, 0, caps["verified_level"])
	contacts := body["data"].(map[string]any)["issue"].(map[string]any)["contacts"].([]any)
	assert.Nil(t, contacts[0].(map[string]any)["email"], "unverified viewers do not see contact emails")

	path := "/public/issues/" + issue.Token + "?level=1&signature=" + s.signer.Sign(issue.Token, 1)
	status, body = s.do(t, "GET", path, nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	caps = body["data"].(map[string]any)["capabilities"].(map[string]any)
	assert.Equal(t, true, caps["can_update"])
	assert.Equal(t, true, caps["can_add_report"])

	status, body = s.do(t, "GET", "/public/issues/unknown-token", nil, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestPublicResolveFlow(t *testing.T) {
	s := newTestServer(t)
	issue := s.openIssue(t, "org-1", "disk")
	payload := map[string]any{
		"level":     1,
		"signature": s.signer.Sign(issue.Token, 1),
		"status":    "RESOLVED",
		"name":      "Alice",
		"email":     "alice@x.com",
		"message":   "fixed",
	}

	status, body := s.do(t, "POST", "/public/issues/"+issue.Token+"/status", payload, nil)
	require.Equal(t, fiber.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, "RESOLVED", data["issue"].(map[string]any)["status"])
	assert.Equal(t, "alice@x.com", data["issue"].(map[string]any)["resolved_by_email"])
	assert.Equal(t, "RESOLVED", data["events"].([]any)[0].(map[string]any)["type"])

	status, body = s.do(t, "POST", "/public/issues/"+issue.Token+"/status", payload, nil)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "INVALID_TRANSITION", errorCode(body))
}

func TestPublicWritesRejectForgedLevel(t *testing.T) {
	s := newTestServer(t)
	issue := s.openIssue(t, "org-1", "disk")

	status, body := s.do(t, "POST", "/public/issues/"+issue.Token+"/status", map[string]any{
		"level":     2,
		"signature": s.signer.Sign(issue.Token, 1),
		"status":    "RESOLVED",
		"name":      "Mallory",
		"email":     "m@x.com",
	}, nil)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "NOT_AUTHORIZED", errorCode(body))
	assert.Equal(t, "not authorized", body["error"].(map[string]any)["message"])

	status, body = s.do(t, "POST", "/public/issues/"+issue.Token+"/reports", map[string]any{
		"level":     2,
		"signature": s.signer.Sign(issue.Token, 2),
		"name":      "Bob",
		"email":     "bob@x.com",
		"message":   "too early",
	}, nil)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "NOT_AUTHORIZED", errorCode(body))
}

func TestPublicValidation(t *testing.T) {
	s := newTestServer(t)
	issue := s.openIssue(t, "org-1", "disk")

	status, body := s.do(t, "POST", "/public/issues/"+issue.Token+"/status", map[string]any{
		"level":     1,
		"signature": s.signer.Sign(issue.Token, 1),
		"status":    "DONE",
		"name":      "Alice",
		"email":     "not-an-email",
	}, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))
	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Contains(t, details, "PublicStatusRequest.Email")
	assert.Contains(t, details, "PublicStatusRequest.Status")

	status, _ = s.do(t, "POST", "/public/issues/"+issue.Token+"/status", map[string]any{
		"level":     1,
		"signature": s.signer.Sign(issue.Token, 1),
		"status":    "EXHAUSTED",
		"name":      "Alice",
		"email":     "alice@x.com",
	}, nil)
	assert.Equal(t, fiber.StatusConflict, status, "known but disallowed targets are transition errors")
}

func TestPublicViewedAndReport(t *testing.T) {
	s := newTestServer(t)
	issue := s.openIssue(t, "org-1", "disk")

	status, _ := s.do(t, "POST", "/public/issues/"+issue.Token+"/viewed", map[string]any{"email": "alice@x.com"}, nil)
	assert.Equal(t, fiber.StatusNoContent, status)

	status, body := s.do(t, "POST", "/public/issues/"+issue.Token+"/reports", map[string]any{
		"level":     1,
		"signature": s.signer.Sign(issue.Token, 1),
		"name":      "Alice",
		"email":     "alice@x.com",
		"message":   "looking into it",
	}, nil)
	require.Equal(t, fiber.StatusCreated, status)
	evs := body["data"].(map[string]any)["events"].([]any)
	assert.Equal(t, "REPORT_ADDED", evs[0].(map[string]any)["type"])
	assert.Len(t, evs, 3)
}

func TestOperatorEndpointsRequireSession(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, "GET", "/api/issues", nil, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))

	status, _ = s.do(t, "GET", "/api/issues", nil, bearer("garbage"))
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestOperatorIssueFlow(t *testing.T) {
	s := newTestServer(t)
	mine := s.openIssue(t, "org-1", "disk")
	theirs := s.openIssue(t, "org-2", "cpu")
	token := s.login(t, "org-1", "member@x.com", domain.OperatorRoleMember)

	status, body := s.do(t, "GET", "/api/issues", nil, bearer(token))
	require.Equal(t, fiber.StatusOK, status)
	items := body["data"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, mine.ID, items[0].(map[string]any)["id"])

	status, _ = s.do(t, "GET", "/api/issues/"+theirs.ID, nil, bearer(token))
	assert.Equal(t, fiber.StatusNotFound, status)

	for _, path := range []string{"/api/issues/not-a-uuid", "/api/issues/not-a-uuid/status", "/api/issues/not-a-uuid/reports"} {
		method, body := "GET", any(nil)
		if path != "/api/issues/not-a-uuid" {
			method, body = "POST", map[string]any{"status": "ACKNOWLEDGED", "message": "x"}
		}
		status, resp := s.do(t, method, path, body, bearer(token))
		assert.Equal(t, fiber.StatusNotFound, status, path)
		assert.Equal(t, "NOT_FOUND", errorCode(resp), path)
	}

	status, body = s.do(t, "POST", "/api/issues/"+mine.ID+"/status", map[string]any{"status": "ACKNOWLEDGED"}, bearer(token))
	require.Equal(t, fiber.StatusOK, status)
	ev := body["data"].(map[string]any)["events"].([]any)[0].(map[string]any)
	assert.Equal(t, "ACKNOWLEDGED", ev["type"])
	assert.EqualValues(t, 1, ev["level"])
	assert.Equal(t, "member@x.com", ev["user_email"])

	status, _ = s.do(t, "POST", "/api/issues/"+mine.ID+"/reports", map[string]any{"message": "vendor paged"}, bearer(token))
	assert.Equal(t, fiber.StatusCreated, status)

	status, body = s.do(t, "GET", "/api/issues?status=ACKNOWLEDGED&page_size=5", nil, bearer(token))
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["data"].([]any), 1)
}

func TestCooldownAdminRequiresAdminRole(t *testing.T) {
	s := newTestServer(t)
	s.openIssue(t, "org-1", "disk")
	member := s.login(t, "org-1", "member@x.com", domain.OperatorRoleMember)
	admin := s.login(t, "org-1", "admin@x.com", domain.OperatorRoleAdmin)

	status, body := s.do(t, "GET", "/api/cooldowns", nil, bearer(member))
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	status, body = s.do(t, "GET", "/api/cooldowns", nil, bearer(admin))
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["data"].([]any), 1)

	status, body = s.do(t, "DELETE", "/api/cooldowns", nil, bearer(admin))
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, body["data"].(map[string]any)["removed"])
}

func TestOperatorAccountEndpoints(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(t, "org-1", "admin@x.com", domain.OperatorRoleAdmin)

	status, body := s.do(t, "POST", "/api/operators", map[string]any{
		"name": "New", "email": "new@x.com", "password": "long-enough",
	}, bearer(admin))
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "org-1", body["data"].(map[string]any)["organization_id"])
	assert.Equal(t, "MEMBER", body["data"].(map[string]any)["role"])

	status, body = s.do(t, "POST", "/api/operators", map[string]any{
		"name": "Dup", "email": "new@x.com", "password": "long-enough",
	}, bearer(admin))
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "CONFLICT", errorCode(body))

	status, body = s.do(t, "GET", "/api/operators", nil, bearer(admin))
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["data"].([]any), 2)

	status, body = s.do(t, "GET", "/api/operators/me", nil, bearer(admin))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "admin@x.com", body["data"].(map[string]any)["email"])

	status, _ = s.do(t, "POST", "/auth/operators/login", map[string]string{"email": "admin@x.com", "password": "wrong"}, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestInternalIngest(t *testing.T) {
	s := newTestServer(t)
	payload := map[string]any{
		"organization_id": "org-1",
		"site_id":         "site-1",
		"check_id":        "http",
		"status":          "critical",
		"contacts":        []map[string]string{{"name": "Alice", "email": "alice@x.com"}},
	}

	status, _ := s.do(t, "POST", "/internal/check-results", payload, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	headers := map[string]string{"X-Internal-Token": internalToken}
	status, body := s.do(t, "POST", "/internal/check-results", payload, headers)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, true, body["data"].(map[string]any)["opened"])

	status, body = s.do(t, "POST", "/internal/check-results", payload, headers)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["data"].(map[string]any)["suppressed"])
	assert.Equal(t, "cooldown", body["data"].(map[string]any)["reason"])

	payload["contacts"] = []map[string]string{}
	status, body = s.do(t, "POST", "/internal/check-results", payload, headers)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.openIssue(t, "org-1", "disk")

	resp, err := s.app.Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "escalation_issues_opened_total "+strconv.Itoa(1))
}
