package metrics

import (
	"context"
	"os"

	"github.com/iidesho/bragi/sbragi"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	log      = sbragi.WithLocalScope(sbragi.LevelInfo)
	Registry *prometheus.Registry
)

func Init() {
	Registry = prometheus.NewRegistry()
}

// Register registers c on Registry. When an equal collector is already registered that one is returned,
// so packages can register their collectors every time they are initialised.
// Without a Registry c is returned unregistered.
func Register[C prometheus.Collector](c C) (C, error) {
	if Registry == nil {
		return c, nil
	}
	err := Registry.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

// Push sends everything gathered by Registry to the pushgateway at url.
func Push(ctx context.Context, url, job string) error {
	if Registry == nil {
		return errors.New("metrics registry is not initialised")
	}
	pusher := push.New(url, job).Gatherer(Registry)

	hn, err := os.Hostname()
	if !log.WithError(err).Error("getting hostname for metrics push") {
		pusher.Grouping("instance", hn)
	}
	return errors.Wrap(pusher.PushContext(ctx), "pushing metrics")
}
