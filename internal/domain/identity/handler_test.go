package identity

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/odontoagenda/agenda/internal/domain/access"
)

func newRequest(method, target, body string, actor *access.Actor) (*http.Request, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if actor != nil {
		req = req.WithContext(access.WithActor(req.Context(), *actor))
	}
	return req, httptest.NewRecorder()
}

func TestHandler_Me(t *testing.T) {
	svc, repo := newTestService()
	p := repo.add("Dr. Lima", access.RolePractitioner, true)
	id := p.Identity()
	h := NewHandler(svc)
	e := echo.New()

	req, rec := newRequest(http.MethodGet, "/api/v1/me", "", &id)
	if err := h.Me(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Actor
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ID != p.ID || got.Name != "Dr. Lima" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	req, rec = newRequest(http.MethodGet, "/api/v1/me", "", nil)
	err := h.Me(e.NewContext(req, rec))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestHandler_CreateActor(t *testing.T) {
	svc, repo := newTestService()
	admin := repo.add("Admin", access.RoleAdministrator, true).Identity()
	h := NewHandler(svc)
	e := echo.New()

	req, rec := newRequest(http.MethodPost, "/api/v1/actors", `{"name":"Dr. Lima","role":"practitioner"}`, &admin)
	if err := h.CreateActor(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if len(repo.actors) != 2 {
		t.Errorf("expected 2 actors, got %d", len(repo.actors))
	}

	req, rec = newRequest(http.MethodPost, "/api/v1/actors", `{"name":`, &admin)
	err := h.CreateActor(e.NewContext(req, rec))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_UpdateActor_LastAdministrator(t *testing.T) {
	svc, repo := newTestService()
	admin := repo.add("Admin", access.RoleAdministrator, true)
	id := admin.Identity()
	h := NewHandler(svc)
	e := echo.New()

	req, rec := newRequest(http.MethodPatch, "/api/v1/actors/"+admin.ID.String(), `{"active":false}`, &id)
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(admin.ID.String())

	err := h.UpdateActor(c)
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected HTTP error, got %v", err)
	}
	if he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", he.Code)
	}
	body := he.Message.(map[string]interface{})
	if body["error"] != "last_active_administrator" {
		t.Errorf("unexpected error body %v", body)
	}
	if !repo.actors[admin.ID].Active {
		t.Error("administrator must remain active")
	}
}

func TestHandler_ListActors_Forbidden(t *testing.T) {
	svc, repo := newTestService()
	p := repo.add("Dr. Lima", access.RolePractitioner, true).Identity()
	h := NewHandler(svc)
	e := echo.New()

	req, rec := newRequest(http.MethodGet, "/api/v1/actors", "", &p)
	err := h.ListActors(e.NewContext(req, rec))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestHandler_ListPractitioners(t *testing.T) {
	svc, repo := newTestService()
	repo.add("Admin", access.RoleAdministrator, true)
	p := repo.add("Dr. Lima", access.RolePractitioner, true)
	id := p.Identity()
	h := NewHandler(svc)
	e := echo.New()

	req, rec := newRequest(http.MethodGet, "/api/v1/practitioners", "", &id)
	if err := h.ListPractitioners(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []map[string]interface{} `json:"data"`
		Total int                      `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.Total != 1 || len(body.Data) != 1 {
		t.Fatalf("expected only the practitioner, got %s", rec.Body.String())
	}
	if body.Data[0]["id"] != p.ID.String() || body.Data[0]["name"] != "Dr. Lima" || body.Data[0]["active"] != true {
		t.Errorf("unexpected practitioner %v", body.Data[0])
	}
	if _, ok := body.Data[0]["role"]; ok {
		t.Error("practitioner view must not expose role")
	}

	req, rec = newRequest(http.MethodGet, "/api/v1/practitioners", "", nil)
	if he, ok := h.ListPractitioners(e.NewContext(req, rec)).(*echo.HTTPError); !ok || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without an actor, got %v", he)
	}
}

func TestHandler_GetActor_InvalidID(t *testing.T) {
	svc, repo := newTestService()
	admin := repo.add("Admin", access.RoleAdministrator, true).Identity()
	h := NewHandler(svc)
	e := echo.New()

	req, rec := newRequest(http.MethodGet, "/api/v1/actors/nope", "", &admin)
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("nope")
	err := h.GetActor(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
