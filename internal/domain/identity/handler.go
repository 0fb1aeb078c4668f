package identity

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/odontoagenda/agenda/internal/domain/access"
	"github.com/odontoagenda/agenda/internal/platform/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/me", h.Me)
	api.GET("/actors", h.ListActors)
	api.POST("/actors", h.CreateActor)
	api.GET("/actors/:id", h.GetActor)
	api.PATCH("/actors/:id", h.UpdateActor)
	api.GET("/practitioners", h.ListPractitioners)
}

func currentActor(c echo.Context) (access.Actor, error) {
	a, ok := access.ActorFromContext(c.Request().Context())
	if !ok {
		return access.Actor{}, apperr.HTTPError(apperr.ErrUnauthenticated)
	}
	return a, nil
}

func bindJSON(c echo.Context, v interface{}) error {
	if err := json.NewDecoder(c.Request().Body).Decode(v); err != nil {
		return apperr.HTTPError(apperr.Wrap(apperr.KindInvalidInput, err, "malformed request body"))
	}
	return nil
}

func (h *Handler) Me(c echo.Context) error {
	by, err := currentActor(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetActor(c.Request().Context(), by, by.ID)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListActors(c echo.Context) error {
	by, err := currentActor(c)
	if err != nil {
		return err
	}
	actors, err := h.svc.ListActors(c.Request().Context(), by)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if actors == nil {
		actors = []*Actor{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": actors, "total": len(actors)})
}

func (h *Handler) ListPractitioners(c echo.Context) error {
	by, err := currentActor(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListPractitioners(c.Request().Context(), by)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

func (h *Handler) CreateActor(c echo.Context) error {
	by, err := currentActor(c)
	if err != nil {
		return err
	}
	var req CreateActorRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	a, err := h.svc.CreateActor(c.Request().Context(), by, req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetActor(c echo.Context) error {
	by, err := currentActor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.HTTPError(apperr.New(apperr.KindInvalidInput, "invalid id"))
	}
	a, err := h.svc.GetActor(c.Request().Context(), by, id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateActor(c echo.Context) error {
	by, err := currentActor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.HTTPError(apperr.New(apperr.KindInvalidInput, "invalid id"))
	}
	var patch ActorPatch
	if err := bindJSON(c, &patch); err != nil {
		return err
	}
	a, err := h.svc.UpdateActor(c.Request().Context(), by, id, patch)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}
