package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Niskarsh/livecapture/capture"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeExecer struct {
	sql  string
	args []any
	err  error
}

func (e *fakeExecer) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	e.sql = sql
	e.args = arguments
	return pgconn.NewCommandTag("INSERT 0 1"), e.err
}

var _ = Describe("Events", func() {
	var (
		ctx   = context.Background()
		at    = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		event Event
	)
	BeforeEach(func() {
		event = Event{
			Key:       "screen_recording/SCREEN_RECORDING_screen-stream-abc-1.webm",
			Kind:      capture.Screen,
			Action:    UploadCompleted,
			Bytes:     1024,
			Parts:     1,
			Location:  "s3://recordings/key",
			Timestamp: at,
		}
	})

	Describe("Multi", func() {
		It("Should deliver to every notifier and join their errors", func() {
			var calls int
			counting := NotifierFunc(func(context.Context, Event) error {
				calls++
				return nil
			})
			failing := NotifierFunc(func(context.Context, Event) error {
				calls++
				return errors.New("broker unavailable")
			})
			err := Multi(failing, nil, counting, failing).Notify(ctx, event)
			Expect(calls).To(Equal(3))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("2 errors occurred"))
		})
		It("Should succeed with no notifiers", func() {
			Expect(Multi().Notify(ctx, event)).To(Succeed())
			Expect(Nop.Notify(ctx, event)).To(Succeed())
		})
	})

	Describe("LogNotifier", func() {
		It("Should log the action with the session fields", func() {
			var out bytes.Buffer
			Expect(LogNotifier{Logger: zerolog.New(&out)}.Notify(ctx, event)).To(Succeed())
			var line map[string]interface{}
			Expect(json.Unmarshal(out.Bytes(), &line)).To(Succeed())
			Expect(line["message"]).To(Equal("upload_completed"))
			Expect(line["kind"]).To(Equal("screen"))
			Expect(line["location"]).To(Equal("s3://recordings/key"))
		})
	})

	Describe("KafkaNotifier", func() {
		var (
			writer   *fakeWriter
			notifier *KafkaNotifier
		)
		BeforeEach(func() {
			writer = &fakeWriter{}
			notifier = newKafkaNotifier(writer)
			notifier.now = func() time.Time { return at }
		})

		It("Should key messages by object key", func() {
			Expect(notifier.Notify(ctx, event)).To(Succeed())
			Expect(writer.messages).To(HaveLen(1))
			message := writer.messages[0]
			Expect(string(message.Key)).To(Equal(event.Key))
			Expect(message.Headers).To(ContainElement(kafka.Header{Key: "action", Value: []byte("upload_completed")}))
			Expect(message.Headers).To(ContainElement(kafka.Header{Key: "source", Value: []byte("screen")}))
			var decoded Event
			Expect(json.Unmarshal(message.Value, &decoded)).To(Succeed())
			Expect(decoded).To(Equal(event))
		})

		It("Should stamp events without a timestamp", func() {
			event.Timestamp = time.Time{}
			message, err := notifier.encodeMessage(event)
			Expect(err).NotTo(HaveOccurred())
			Expect(message.Time).To(Equal(at))
		})

		It("Should reject events without a key or action", func() {
			_, err := notifier.encodeMessage(Event{Action: StartStreaming})
			Expect(err).To(HaveOccurred())
			_, err = notifier.encodeMessage(Event{Key: "key"})
			Expect(err).To(HaveOccurred())
		})

		It("Should wrap write failures", func() {
			writer.err = errors.New("leader not available")
			err := notifier.Notify(ctx, event)
			Expect(err).To(MatchError(ContainSubstring("failed to write to kafka")))
			Expect(errors.Is(err, writer.err)).To(BeTrue())
		})

		It("Should close the writer", func() {
			Expect(notifier.Close()).To(Succeed())
			Expect(writer.closed).To(BeTrue())
		})

		It("Should need a broker", func() {
			_, err := NewKafkaNotifier(nil, "")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Catalog", func() {
		It("Should upsert the session row", func() {
			db := &fakeExecer{}
			catalog := &Catalog{db: db, log: zerolog.Nop()}
			Expect(catalog.Notify(ctx, event)).To(Succeed())
			Expect(db.sql).To(ContainSubstring("ON CONFLICT (object_key)"))
			Expect(db.args).To(HaveLen(11))
			Expect(db.args[0]).To(Equal(event.Key))
			Expect(db.args[2]).To(Equal("completed"))
			Expect(db.args[3]).To(Equal(int64(1024)))
			Expect(db.args[9]).To(Equal(&at))
		})

		It("Should report database failures", func() {
			db := &fakeExecer{err: errors.New("connection refused")}
			catalog := &Catalog{db: db, log: zerolog.Nop()}
			Expect(catalog.Notify(ctx, event)).NotTo(Succeed())
			Expect(catalog.Notify(ctx, Event{Action: StartStreaming})).NotTo(Succeed())
		})

		It("Should map each action to a status", func() {
			event.Action = StartStreaming
			row := rowFor(event)
			Expect(row.status).To(Equal("streaming"))
			Expect(row.started).NotTo(BeNil())
			Expect(row.finished).To(BeNil())

			event.Action = StopStreaming
			Expect(rowFor(event).status).To(Equal("stopping"))
			event.Action = UploadFailed
			Expect(rowFor(event).status).To(Equal("failed"))
		})

		It("Should embed the migrations", func() {
			source, err := iofs.New(migrations, "migrations")
			Expect(err).NotTo(HaveOccurred())
			version, err := source.First()
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(Equal(uint(1)))
		})
	})
})
