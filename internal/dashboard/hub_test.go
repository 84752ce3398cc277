package dashboard

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionflow/internal/state"
	"optionflow/models"
)

type pushed struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func drain(t *testing.T, c *client) []pushed {
	t.Helper()
	var out []pushed
	for {
		select {
		case msg := <-c.send:
			var p pushed
			require.NoError(t, json.Unmarshal(msg, &p))
			out = append(out, p)
		default:
			return out
		}
	}
}

func changeSeq(t *testing.T, p pushed) uint64 {
	t.Helper()
	var ch state.Change
	require.NoError(t, json.Unmarshal(p.Data, &ch))
	return ch.Seq
}

func TestHubDeliversChangesRacingTheSnapshot(t *testing.T) {
	f := newFixture(t)
	h := newHub(f.container, f.log)
	t.Cleanup(h.close)

	c := &client{send: make(chan []byte, clientBuffer)}
	require.True(t, h.attach(c))

	// one change lands before the snapshot, one between snapshot and priming
	f.store.Insert(models.Trade{ID: "a"})
	snap := f.container.Snapshot()
	f.store.Insert(models.Trade{ID: "b"})

	require.NoError(t, h.prime(c, snap))
	msgs := drain(t, c)
	require.Len(t, msgs, 2)
	assert.Equal(t, "snapshot", msgs[0].Type)
	assert.Equal(t, "change", msgs[1].Type)
	assert.Equal(t, snap.Seq+1, changeSeq(t, msgs[1]))

	// late delivery of a change already in the snapshot is skipped
	h.publish(state.Change{Seq: snap.Seq, Action: state.ActionAddTrade})
	assert.Empty(t, drain(t, c))

	f.store.Insert(models.Trade{ID: "c"})
	msgs = drain(t, c)
	require.Len(t, msgs, 1)
	assert.Equal(t, snap.Seq+2, changeSeq(t, msgs[0]))
}

func TestHubClosedRejectsClients(t *testing.T) {
	f := newFixture(t)
	h := newHub(f.container, f.log)

	c := &client{send: make(chan []byte, clientBuffer)}
	require.True(t, h.attach(c))
	h.close()

	assert.ErrorIs(t, h.prime(c, f.container.Snapshot()), errHubClosed)
	assert.False(t, h.attach(&client{send: make(chan []byte, 1)}))
	assert.Zero(t, h.count())
}
