package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/serialbridge/internal/pipeline"
	errspkg "github.com/drblury/serialbridge/internal/runtime/errors"
	"github.com/drblury/serialbridge/internal/runtime/ids"
	"github.com/drblury/serialbridge/internal/runtime/metadata"
	"github.com/drblury/serialbridge/internal/runtime/metrics"
	"github.com/drblury/serialbridge/internal/source"
)

const (
	topic = "/topic/ccost"

	envirLine = "<msg><src>CC128-v0.11</src><dsb>00089</dsb><time>13:02:39</time><tmpr>21.5</tmpr>" +
		"<sensor>1</sensor><id>01234</id><type>1</type><ch1><watts>1024</watts></ch1></msg>\r\n"
	historyLine = "<msg><src>CC128-v0.11</src><dsb>00089</dsb><time>13:10:50</time><hist><dsw>00032</dsw>" +
		"<type>1</type><units>kwhr</units><data><sensor>0</sensor><h024>001.1</h024></data></hist></msg>\r\n"
	garbageLine = "\x00\x00noise\r\n"

	envirJSON = `{"Source":"CC128-v0.11","DaysSinceBirth":"00089","Time":"13:02:39","Temperature":"21.5",` +
		`"Sensor":"1","ID":"01234","Type":"1","Watts":"1024"}`
)

type fixture struct {
	loop    *Loop
	pubsub  *gochannel.GoChannel
	metrics *metrics.Ingest
	logDir  string
}

func newFixture(t *testing.T, lines string, pub message.Publisher) *fixture {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "device.xml")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o600))

	filter, err := pipeline.NewExclusionFilter(pipeline.BuiltinExclusions(), nil)
	require.NoError(t, err)
	rule := pipeline.BuiltinRules()[0]

	ps := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })
	if pub == nil {
		pub = ps
	}

	m := metrics.NewIngest(prometheus.NewRegistry())
	require.NoError(t, m.Register())

	logDir := filepath.Join(dir, "raw")
	loop, err := New(Options{
		Lines:     source.NewReader(source.FileOpener(path), source.Reconnect{}, nil),
		RawLog:    source.NewRawLog(logDir, nil),
		Filter:    filter,
		Chain:     pipeline.ChainForRule(rule),
		RuleName:  rule.Name,
		Publisher: pub,
		Topic:     topic,
		Metrics:   m,
	})
	require.NoError(t, err)

	return &fixture{loop: loop, pubsub: ps, metrics: m, logDir: logDir}
}

func TestRunPublishesMatchedLines(t *testing.T) {
	f := newFixture(t, envirLine+historyLine+garbageLine+envirLine, nil)

	require.NoError(t, f.loop.Run(context.Background()))

	msgs, err := f.pubsub.Subscribe(context.Background(), topic)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case msg := <-msgs:
			assert.Equal(t, envirJSON, string(msg.Payload))
			assert.Equal(t, pipeline.BuiltinRuleName, msg.Metadata.Get(metadata.KeyRule))
			assert.Equal(t, topic, msg.Metadata.Get(metadata.KeyTopic))
			assert.Equal(t, metadata.ContentTypeJSON, msg.Metadata.Get(metadata.KeyContentType))
			readAt, err := time.Parse(time.RFC3339Nano, msg.Metadata.Get(metadata.KeyReadAt))
			require.NoError(t, err)
			idTime, err := ids.Time(msg.UUID)
			require.NoError(t, err)
			assert.Equal(t, readAt.Truncate(time.Millisecond).UnixMilli(), idTime.UnixMilli())
			msg.Ack()
		case <-time.After(2 * time.Second):
			t.Fatalf("expected message %d", i)
		}
	}

	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.LinesRead))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LinesExcluded))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LinesUnmatched))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.RecordsSent.WithLabelValues(pipeline.BuiltinRuleName)))
}

func TestRawLogReceivesEveryLineBeforeFiltering(t *testing.T) {
	f := newFixture(t, envirLine+historyLine, nil)
	require.NoError(t, f.loop.Run(context.Background()))

	var logged []byte
	require.NoError(t, filepath.WalkDir(f.logDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		logged = append(logged, data...)
		return err
	}))
	assert.Equal(t, envirLine+historyLine, string(logged))
}

func TestProcessOutcomes(t *testing.T) {
	f := newFixture(t, "", nil)

	assert.ErrorIs(t, f.loop.Process(context.Background(), historyLine), errspkg.ErrExcludedLine)
	assert.ErrorIs(t, f.loop.Process(context.Background(), garbageLine), errspkg.ErrUnmatchedLine)
	assert.NoError(t, f.loop.Process(context.Background(), envirLine))
}

func TestProcessAtStampsReadTime(t *testing.T) {
	f := newFixture(t, "", nil)
	readAt := time.Date(2026, 3, 14, 13, 2, 39, 0, time.UTC)

	require.NoError(t, f.loop.ProcessAt(context.Background(), envirLine, readAt))

	msgs, err := f.pubsub.Subscribe(context.Background(), topic)
	require.NoError(t, err)
	select {
	case msg := <-msgs:
		assert.Equal(t, readAt.Format(time.RFC3339Nano), msg.Metadata.Get(metadata.KeyReadAt))
		idTime, err := ids.Time(msg.UUID)
		require.NoError(t, err)
		assert.True(t, readAt.Equal(idTime))
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("expected a message")
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(string, ...*message.Message) error { return errors.New("broker gone") }
func (failingPublisher) Close() error                              { return nil }

func TestPublishFailureIsFatal(t *testing.T) {
	f := newFixture(t, garbageLine+envirLine+envirLine, failingPublisher{})

	err := f.loop.Run(context.Background())
	require.Error(t, err)

	var trErr *errspkg.TransportError
	require.True(t, errors.As(err, &trErr))
	assert.Equal(t, "publish", trErr.Op)
	assert.True(t, errspkg.IsFatal(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PublishFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.LinesRead))
}

type blockingSource struct{ closed chan struct{} }

func (b *blockingSource) ReadLine() ([]byte, error) {
	<-b.closed
	return nil, errors.New("closed")
}

func (b *blockingSource) Close() error {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
	return nil
}

func TestRunStopsOnCancel(t *testing.T) {
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer ps.Close()

	src := &blockingSource{closed: make(chan struct{})}
	loop, err := New(Options{
		Lines:     source.NewReader(func() (source.LineSource, error) { return src, nil }, source.Reconnect{}, nil),
		Chain:     pipeline.ChainForRule(pipeline.BuiltinRules()[0]),
		Publisher: ps,
		Topic:     topic,
		Metrics:   metrics.NewIngest(prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestNewValidatesOptions(t *testing.T) {
	reader := source.NewReader(source.FileOpener("-"), source.Reconnect{}, nil)
	chain := pipeline.ChainForRule(pipeline.BuiltinRules()[0])
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer ps.Close()

	tests := []struct {
		name string
		opts Options
		want error
	}{
		{name: "source", opts: Options{Chain: chain, Publisher: ps, Topic: topic}, want: errspkg.ErrSourceRequired},
		{name: "chain", opts: Options{Lines: reader, Publisher: ps, Topic: topic}, want: errspkg.ErrRuleNotFound},
		{name: "publisher", opts: Options{Lines: reader, Chain: chain, Topic: topic}, want: errspkg.ErrPublisherRequired},
		{name: "topic", opts: Options{Lines: reader, Chain: chain, Publisher: ps}, want: errspkg.ErrTopicRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
