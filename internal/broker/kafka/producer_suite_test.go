package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type writerMock struct {
	mock.Mock
}

func (m *writerMock) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

type closingWriter struct {
	writerMock
	closed bool
}

func (w *closingWriter) Close() error {
	w.closed = true
	return nil
}

type ProducerSuite struct {
	suite.Suite
	wm *writerMock
	p  *Producer
}

func (s *ProducerSuite) SetupTest() {
	s.wm = &writerMock{}
	s.p = newProducerWithWriter(s.wm)
}

func (s *ProducerSuite) TestNewProducer() {
	s.Require().NotNil(NewProducer([]string{"localhost:0"}))
}

func (s *ProducerSuite) TestPublish_StatusChangeKeyedByOrder() {
	msg := messages.OrderStatusChanged{
		MessageID: "m-1",
		OrderID:   "order-7",
		From:      "PENDING",
		To:        "SHIPPED",
		ChangedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	body, err := json.Marshal(msg)
	s.Require().NoError(err)

	s.wm.
		On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 {
				return false
			}
			var got messages.OrderStatusChanged
			if json.Unmarshal(msgs[0].Value, &got) != nil {
				return false
			}
			return msgs[0].Topic == "shipping.order_status_changed" &&
				string(msgs[0].Key) == "order-7" &&
				got.To == "SHIPPED"
		})).
		Return(nil).
		Once()

	s.Require().NoError(s.p.Publish(context.Background(), "shipping.order_status_changed", []byte(msg.OrderID), body))
	s.wm.AssertExpectations(s.T())
}

func (s *ProducerSuite) TestPublish_ErrorWrapped() {
	s.wm.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

	err := s.p.Publish(context.Background(), "carrier.tracking_reported", []byte("order-1"), []byte(`{}`))
	s.Require().ErrorContains(err, "kafka publish")
	s.Require().ErrorContains(err, "broker down")
	s.wm.AssertExpectations(s.T())
}

func (s *ProducerSuite) TestClose() {
	cw := &closingWriter{}
	s.Require().NoError(newProducerWithWriter(cw).Close())
	s.Require().True(cw.closed)

	// writer without Close
	s.Require().NoError(s.p.Close())
}

func TestProducerSuite(t *testing.T) {
	suite.Run(t, new(ProducerSuite))
}
