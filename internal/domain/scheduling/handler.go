package scheduling

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/odontoagenda/agenda/internal/domain/access"
	"github.com/odontoagenda/agenda/internal/platform/apperr"
	"github.com/odontoagenda/agenda/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/slots", h.BookSlot)
	api.GET("/slots", h.ListSlots)
	api.GET("/slots/today", h.ListToday)
	api.GET("/slots/tomorrow", h.ListTomorrow)
	api.GET("/slots/free", h.FreeWindows)
	api.GET("/slots/:id", h.GetSlot)
	api.PUT("/slots/:id", h.RescheduleSlot)
	api.PATCH("/slots/:id", h.RescheduleSlot)
	api.DELETE("/slots/:id", h.CancelSlot)
}

func actorOf(c echo.Context) (access.Actor, error) {
	a, ok := access.ActorFromContext(c.Request().Context())
	if !ok {
		return access.Actor{}, apperr.HTTPError(apperr.ErrUnauthenticated)
	}
	return a, nil
}

func decodeBody(c echo.Context, v interface{}) error {
	err := json.NewDecoder(c.Request().Body).Decode(v)
	if err == nil {
		return nil
	}
	var k apperr.Kinded
	if errors.As(err, &k) {
		return err
	}
	if errors.Is(err, io.EOF) {
		return apperr.New(apperr.KindInvalidInput, "request body is required")
	}
	return apperr.Wrap(apperr.KindInvalidInput, err, "malformed request body")
}

func idParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.New(apperr.KindInvalidInput, "invalid %s", name)
	}
	return id, nil
}

func uuidQuery(c echo.Context, name string) (uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.New(apperr.KindInvalidInput, "invalid %s", name)
	}
	return id, nil
}

func dateQuery(c echo.Context, name string) (Date, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return Date{}, nil
	}
	return ParseDate(raw)
}

func (h *Handler) BookSlot(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	var req BookingRequest
	if err := decodeBody(c, &req); err != nil {
		return apperr.HTTPError(err)
	}
	slot, err := h.svc.Book(c.Request().Context(), actor, req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, slot)
}

func (h *Handler) GetSlot(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "id")
	if err != nil {
		return apperr.HTTPError(err)
	}
	slot, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, slot)
}

func (h *Handler) ListSlots(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := Filter{Limit: pg.Limit, Offset: pg.Offset}
	if f.PractitionerID, err = uuidQuery(c, "practitioner_id"); err != nil {
		return apperr.HTTPError(err)
	}
	if f.PatientID, err = uuidQuery(c, "patient_id"); err != nil {
		return apperr.HTTPError(err)
	}
	if f.From, err = dateQuery(c, "from"); err != nil {
		return apperr.HTTPError(err)
	}
	if f.To, err = dateQuery(c, "to"); err != nil {
		return apperr.HTTPError(err)
	}

	items, total, err := h.svc.List(c.Request().Context(), actor, f)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if items == nil {
		items = []*Slot{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ListToday(c echo.Context) error {
	return h.listDay(c, 0)
}

func (h *Handler) ListTomorrow(c echo.Context) error {
	return h.listDay(c, 1)
}

func (h *Handler) listDay(c echo.Context, offset int) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	practitionerID, err := uuidQuery(c, "practitioner_id")
	if err != nil {
		return apperr.HTTPError(err)
	}
	items, err := h.svc.ListDay(c.Request().Context(), actor, practitionerID, offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if items == nil {
		items = []*Slot{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

func (h *Handler) FreeWindows(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	practitionerID, err := uuidQuery(c, "practitioner_id")
	if err != nil {
		return apperr.HTTPError(err)
	}
	date, err := dateQuery(c, "date")
	if err != nil {
		return apperr.HTTPError(err)
	}
	minutes := DefaultDurationMinutes
	if raw := c.QueryParam("duration"); raw != "" {
		if minutes, err = strconv.Atoi(raw); err != nil || minutes <= 0 {
			return apperr.HTTPError(apperr.New(apperr.KindInvalidInput, "invalid duration"))
		}
	}

	windows, err := h.svc.FreeWindows(c.Request().Context(), actor, practitionerID, date, minutes)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if windows == nil {
		windows = []Window{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"date": date,
		"data": windows,
	})
}

func (h *Handler) RescheduleSlot(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "id")
	if err != nil {
		return apperr.HTTPError(err)
	}
	var patch SlotPatch
	if err := decodeBody(c, &patch); err != nil {
		return apperr.HTTPError(err)
	}
	slot, err := h.svc.Reschedule(c.Request().Context(), actor, id, patch)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, slot)
}

func (h *Handler) CancelSlot(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "id")
	if err != nil {
		return apperr.HTTPError(err)
	}
	if err := h.svc.Cancel(c.Request().Context(), actor, id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
