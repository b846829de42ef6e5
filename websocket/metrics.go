package websocket

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	errTypeLabel = "error_type"
)

var (
	wsConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lodgrid_ws_connected_clients",
		Help: "The number of clients connected to the topology stream.",
	})

	wsSentMsgs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lodgrid_ws_sent_msgs",
		Help: "The number of messages sent to stream clients.",
	})

	wsSentBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lodgrid_ws_sent_bytes",
		Help: "The number of bytes sent to stream clients.",
	})

	wsDroppedMsgs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lodgrid_ws_dropped_msgs",
		Help: "The number of messages dropped because a stream client was too slow.",
	})

	wsSendError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lodgrid_ws_send_errors",
		Help: "The errors that occured while sending a websocket message.",
	}, []string{
		errTypeLabel,
	})
)

func instrumentClients(n int) {
	wsConnectedClients.Set(float64(n))
}

func instrumentSentMsg(size int) {
	wsSentMsgs.Inc()
	wsSentBytes.Add(float64(size))
}

func instrumentDroppedMsg() {
	wsDroppedMsgs.Inc()
}

func instrumentSendError(err error) {
	wsSendError.
		With(prometheus.Labels{
			errTypeLabel: errors.Type(err),
		}).
		Inc()
}
