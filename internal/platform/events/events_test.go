package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odontoagenda/agenda/internal/domain/access"
)

func newClient(id string, topics ...string) *Client {
	return &Client{ID: id, Topics: topics, Send: make(chan []byte, 8)}
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case data := <-c.Send:
		var ev Event
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("client %s received nothing", c.ID)
		return Event{}
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("client %s unexpectedly received %s", c.ID, data)
	default:
	}
}

func TestHub_PublishToCalendarTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	p1, p2 := uuid.New(), uuid.New()

	own := newClient("own", CalendarTopic(p1))
	other := newClient("other", CalendarTopic(p2))
	admin := newClient("admin", TopicAll)
	hub.Register(own)
	hub.Register(other)
	hub.Register(admin)

	ev := Event{Type: TypeSlotBooked, Topic: CalendarTopic(p1), SlotID: uuid.New(), PractitionerID: p1}
	require.NoError(t, hub.Publish(context.Background(), ev))

	assert.Equal(t, ev.SlotID, receive(t, own).SlotID)
	assert.Equal(t, TypeSlotBooked, receive(t, admin).Type)
	assertSilent(t, other)
}

func TestHub_NoDuplicateDelivery(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	p := uuid.New()
	c := newClient("both", CalendarTopic(p), TopicAll)
	hub.Register(c)

	require.NoError(t, hub.Publish(context.Background(), Event{Topic: CalendarTopic(p)}))
	receive(t, c)
	assertSilent(t, c)
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	p := uuid.New()
	c := newClient("c")
	hub.Register(c)

	hub.Subscribe(c, []string{CalendarTopic(p)})
	hub.Subscribe(c, []string{CalendarTopic(p)})
	assert.Equal(t, 1, hub.TopicCount(CalendarTopic(p)))
	assert.Len(t, c.Topics, 1)

	hub.Unsubscribe(c, []string{CalendarTopic(p)})
	assert.Equal(t, 0, hub.TopicCount(CalendarTopic(p)))
	assert.Empty(t, c.Topics)

	hub.Unregister(c)
	assert.Equal(t, 0, hub.ClientCount())
	_, open := <-c.Send
	assert.False(t, open)
}

func TestCanWatch(t *testing.T) {
	p := access.Actor{ID: uuid.New(), Role: access.RolePractitioner, Active: true}
	admin := access.Actor{ID: uuid.New(), Role: access.RoleAdministrator, Active: true}

	assert.True(t, CanWatch(p, CalendarTopic(p.ID)))
	assert.False(t, CanWatch(p, CalendarTopic(uuid.New())))
	assert.False(t, CanWatch(p, TopicAll))
	assert.True(t, CanWatch(admin, TopicAll))
	assert.True(t, CanWatch(admin, CalendarTopic(p.ID)))
	assert.False(t, CanWatch(admin, "Patient/123"))

	p.Active = false
	assert.False(t, CanWatch(p, CalendarTopic(p.ID)))
}

func TestHandler_ProcessMessageFiltersTopics(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	h := NewHandler(hub, nil)
	p := access.Actor{ID: uuid.New(), Role: access.RolePractitioner, Active: true}
	c := newClient("c")
	hub.Register(c)

	h.ProcessMessage(c, p, ClientMessage{Action: "subscribe", Topics: []string{
		CalendarTopic(p.ID), CalendarTopic(uuid.New()), TopicAll,
	}})
	assert.Equal(t, []string{CalendarTopic(p.ID)}, c.Topics)
}

func TestRedisRelay_FansOutToLocalHub(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	hub := NewHub(zerolog.Nop())
	p := uuid.New()
	c := newClient("c", CalendarTopic(p))
	hub.Register(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := NewRedisRelay(rdb, "", hub, zerolog.Nop())
	require.NoError(t, relay.Start(ctx))

	ev := Event{Type: TypeSlotCancelled, Topic: CalendarTopic(p), SlotID: uuid.New(), PractitionerID: p}
	require.NoError(t, relay.Publish(ctx, ev))

	got := receive(t, c)
	assert.Equal(t, TypeSlotCancelled, got.Type)
	assert.Equal(t, ev.SlotID, got.SlotID)
}

func TestPractitionerOfTopic(t *testing.T) {
	id := uuid.New()
	got, ok := PractitionerOfTopic(CalendarTopic(id))
	assert.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = PractitionerOfTopic(TopicAll)
	assert.False(t, ok)
}
