package reconciler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"uk.co.dudmesh.parley/internal/model"
	"uk.co.dudmesh.parley/pkg/wire"
)

func confirmed(id string, createdAt time.Time) model.Message {
	return model.Message{
		ID:             model.MessageID(id),
		ConversationID: "c1",
		SenderID:       "u2",
		Kind:           model.MessageKindText,
		Content:        "msg " + id,
		Status:         model.MessageStatusSent,
		CreatedAt:      createdAt,
	}
}

func TestMergeDedupIdempotence(t *testing.T) {
	assert := assert.New(t)

	r := New("u1")
	m := confirmed("m7", time.UnixMilli(1000).UTC())

	assert.Equal(OutcomeAppended, r.Merge(m))
	assert.Equal(OutcomeDuplicateSuppressed, r.Merge(m))
	assert.Equal(OutcomeDuplicateSuppressed, r.Merge(m))
	assert.Len(r.Timeline("c1"), 1)
}

func TestMergePromotesOptimisticSend(t *testing.T) {
	assert := assert.New(t)

	r := New("u1")
	localKey := model.NewLocalKey()

	pending := model.Message{
		LocalKey:       localKey,
		ConversationID: "c1",
		SenderID:       "u1",
		Kind:           model.MessageKindText,
		Content:        "hello",
		Status:         model.MessageStatusSending,
		CreatedAt:      time.Now().UTC(),
	}
	assert.Equal(OutcomeAppended, r.InsertLocal(pending))

	ack := pending
	ack.ID = "m7"
	ack.Status = model.MessageStatusSent
	ack.CreatedAt = time.UnixMilli(2000).UTC()
	assert.Equal(OutcomePromoted, r.Merge(ack))

	timeline := r.Timeline("c1")
	assert.Len(timeline, 1)
	assert.Equal(model.MessageID("m7"), timeline[0].ID)
	assert.Equal(model.MessageStatusSent, timeline[0].Status)
	assert.Equal(time.UnixMilli(2000).UTC(), timeline[0].CreatedAt)

	// the socket re-delivery of the same confirmed message is a duplicate
	assert.Equal(OutcomeDuplicateSuppressed, r.Merge(ack))
	assert.Len(r.Timeline("c1"), 1)
}

func TestMergeAckWithoutIDKeepsRecordReachable(t *testing.T) {
	assert := assert.New(t)

	r := New("u1")
	localKey := model.NewLocalKey()

	pending := model.Message{
		LocalKey:       localKey,
		ConversationID: "c1",
		SenderID:       "u1",
		Kind:           model.MessageKindText,
		Content:        "hello",
		Status:         model.MessageStatusSending,
		CreatedAt:      time.Now().UTC(),
	}
	assert.Equal(OutcomeAppended, r.InsertLocal(pending))

	// an acknowledgement missing its server id still promotes the status,
	// but the record stays addressable by localKey
	ack := pending
	ack.ID = ""
	ack.Status = model.MessageStatusSent
	assert.Equal(OutcomePromoted, r.Merge(ack))
	assert.NotNil(r.Pending("c1", localKey))
	assert.Len(r.Timeline("c1"), 1)

	// the complete acknowledgement arrives later and takes over
	ack.ID = "m7"
	ack.CreatedAt = time.UnixMilli(2000).UTC()
	assert.Equal(OutcomePromoted, r.Merge(ack))

	timeline := r.Timeline("c1")
	assert.Len(timeline, 1)
	assert.Equal(model.MessageID("m7"), timeline[0].ID)

	// and the id now serves status updates
	assert.Equal(OutcomeStatusChanged, r.ApplyStatus("c1", "m7", model.MessageStatusDelivered))
}

func TestMergeOrdering(t *testing.T) {
	assert := assert.New(t)

	r := New("u1")
	r.Merge(confirmed("a", time.UnixMilli(10).UTC()))
	r.Merge(confirmed("b", time.UnixMilli(5).UTC()))
	r.Merge(confirmed("c", time.UnixMilli(20).UTC()))

	timeline := r.Timeline("c1")
	assert.Len(timeline, 3)
	assert.Equal(model.MessageID("b"), timeline[0].ID)
	assert.Equal(model.MessageID("a"), timeline[1].ID)
	assert.Equal(model.MessageID("c"), timeline[2].ID)
}

func TestMergeStableTies(t *testing.T) {
	assert := assert.New(t)

	at := time.UnixMilli(100).UTC()
	r := New("u1")
	r.Merge(confirmed("first", at))
	r.Merge(confirmed("second", at))
	r.Merge(confirmed("third", at))

	timeline := r.Timeline("c1")
	assert.Equal(model.MessageID("first"), timeline[0].ID)
	assert.Equal(model.MessageID("second"), timeline[1].ID)
	assert.Equal(model.MessageID("third"), timeline[2].ID)
}

func TestApplyStatus(t *testing.T) {
	assert := assert.New(t)

	r := New("u1")
	r.Merge(confirmed("m1", time.UnixMilli(1000).UTC()))

	t.Run("advances", func(t *testing.T) {
		assert.Equal(OutcomeStatusChanged, r.ApplyStatus("c1", "m1", model.MessageStatusDelivered))
		assert.Equal(model.MessageStatusDelivered, r.Timeline("c1")[0].Status)
	})

	t.Run("never moves backwards", func(t *testing.T) {
		assert.Equal(OutcomeStatusChanged, r.ApplyStatus("c1", "m1", model.MessageStatusRead))
		assert.Equal(OutcomeIgnored, r.ApplyStatus("c1", "m1", model.MessageStatusDelivered))
		assert.Equal(model.MessageStatusRead, r.Timeline("c1")[0].Status)
	})

	t.Run("unknown id is ignored", func(t *testing.T) {
		assert.Equal(OutcomeIgnored, r.ApplyStatus("c1", "missing", model.MessageStatusRead))
		assert.Equal(OutcomeIgnored, r.ApplyStatus("nope", "m1", model.MessageStatusRead))
	})
}

func TestRecall(t *testing.T) {
	assert := assert.New(t)

	r := New("u1")
	r.Merge(confirmed("m1", time.UnixMilli(1000).UTC()))

	assert.Equal(OutcomeRecalled, r.Recall("c1", "m1"))
	recalled := r.Timeline("c1")[0]
	assert.Equal(model.MessageStatusRecalled, recalled.Status)
	assert.Empty(recalled.Content)

	// terminal: re-delivery and later status updates change nothing
	assert.Equal(OutcomeDuplicateSuppressed, r.Recall("c1", "m1"))
	assert.Equal(OutcomeIgnored, r.ApplyStatus("c1", "m1", model.MessageStatusRead))
}

func TestFailedRetryCycle(t *testing.T) {
	assert := assert.New(t)

	r := New("u1")
	localKey := model.NewLocalKey()
	r.InsertLocal(model.Message{
		LocalKey:       localKey,
		ConversationID: "c1",
		SenderID:       "u1",
		Status:         model.MessageStatusSending,
		CreatedAt:      time.Now().UTC(),
	})

	assert.Equal(OutcomeStatusChanged, r.MarkFailed("c1", localKey))
	assert.Equal(model.MessageStatusFailed, r.Timeline("c1")[0].Status)

	assert.Equal(OutcomeStatusChanged, r.MarkSending("c1", localKey))
	assert.Equal(model.MessageStatusSending, r.Timeline("c1")[0].Status)

	// only a failed send may re-enter sending
	assert.Equal(OutcomeIgnored, r.MarkSending("c1", localKey))
}

func TestMergePage(t *testing.T) {
	assert := assert.New(t)

	r := New("u1")
	r.Merge(confirmed("m1", time.UnixMilli(1000).UTC()))

	page := []model.Message{
		confirmed("m1", time.UnixMilli(1000).UTC()),
		confirmed("m2", time.UnixMilli(2000).UTC()),
		confirmed("m3", time.UnixMilli(3000).UTC()),
	}
	assert.Equal(2, r.MergePage(page))
	assert.Len(r.Timeline("c1"), 3)
}

func TestApplyEvent(t *testing.T) {
	assert := assert.New(t)

	r := New("u1")

	t.Run("message", func(t *testing.T) {
		event, err := wire.Parse([]byte(`{"type":"MESSAGE","conversationId":"c1","id":"m1","senderId":"u2","kind":"TEXT","content":"hi","createdAt":1000}`))
		assert.Nil(err)
		outcome, m := r.Apply(event)
		assert.Equal(OutcomeAppended, outcome)
		assert.NotNil(m)
		assert.Equal(model.MessageID("m1"), m.ID)
	})

	t.Run("status update", func(t *testing.T) {
		event, err := wire.Parse([]byte(`{"type":"STATUS_UPDATE","conversationId":"c1","id":"m1","senderId":"u2","status":"DELIVERED"}`))
		assert.Nil(err)
		outcome, _ := r.Apply(event)
		assert.Equal(OutcomeStatusChanged, outcome)
	})

	t.Run("recall", func(t *testing.T) {
		event, err := wire.Parse([]byte(`{"type":"RECALL","conversationId":"c1","id":"m1","senderId":"u2"}`))
		assert.Nil(err)
		outcome, _ := r.Apply(event)
		assert.Equal(OutcomeRecalled, outcome)
	})

	t.Run("typing never touches the working set", func(t *testing.T) {
		event, err := wire.Parse([]byte(`{"type":"TYPING","conversationId":"c1","senderId":"u2"}`))
		assert.Nil(err)
		outcome, _ := r.Apply(event)
		assert.Equal(OutcomeIgnored, outcome)
		assert.Len(r.Timeline("c1"), 1)
	})

	t.Run("unknown message kind is dropped", func(t *testing.T) {
		event, err := wire.Parse([]byte(`{"type":"MESSAGE","conversationId":"c1","id":"m9","senderId":"u2","kind":"HOLOGRAM"}`))
		assert.Nil(err)
		outcome, _ := r.Apply(event)
		assert.Equal(OutcomeIgnored, outcome)
	})
}
