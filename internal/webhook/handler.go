package webhook

import (
	"errors"
	"io"
	"net/http"

	"github.com/hatmlabs/staking-gateway/internal/metrics"
	"github.com/hatmlabs/staking-gateway/internal/reconcile"
)

// EventSink receives the events extracted from verified deliveries.
type EventSink interface {
	Apply(ev reconcile.Event) error
}

// Handler returns the HTTP handler for webhook deliveries. Authentication
// failures return 401 before any reconciler state is touched; processing
// failures return 500.
func (i *Ingestor) Handler(sink EventSink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 10<<20))
		if err != nil {
			i.log.Warn("failed to read webhook body", "error", err)
			metrics.WebhookRequestsTotal.WithLabelValues("read_failed").Inc()
			http.Error(w, "failed to read body", http.StatusInternalServerError)
			return
		}

		signatureHeader := r.Header.Get("X-Signature")
		if signatureHeader == "" {
			signatureHeader = r.Header.Get("Authorization")
		}

		events, err := i.Ingest(body, signatureHeader)
		if errors.Is(err, ErrAuth) {
			i.log.Warn("rejected webhook delivery", "error", err, "remote", r.RemoteAddr)
			metrics.WebhookRequestsTotal.WithLabelValues("unauthorized").Inc()
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err != nil {
			i.log.Error("failed to ingest webhook delivery", "error", err)
			metrics.WebhookRequestsTotal.WithLabelValues("ingest_failed").Inc()
			http.Error(w, "failed to process delivery", http.StatusInternalServerError)
			return
		}

		for _, ev := range events {
			if err := sink.Apply(ev); err != nil {
				if errors.Is(err, reconcile.ErrConflict) {
					// Redelivery of an event another channel already applied.
					continue
				}
				i.log.Error("failed to apply webhook event", "sig", ev.Signature, "error", err)
				metrics.WebhookRequestsTotal.WithLabelValues("apply_failed").Inc()
				http.Error(w, "failed to apply events", http.StatusInternalServerError)
				return
			}
		}

		metrics.WebhookRequestsTotal.WithLabelValues("ok").Inc()
		w.WriteHeader(http.StatusOK)
	}
}
