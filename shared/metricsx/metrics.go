package metricsx

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag by topic.",
		},
		[]string{"topic", "group"},
	)
	influxWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "influx_write_failures_total",
			Help: "Total InfluxDB write failures.",
		},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Asynq queue depth by queue.",
		},
		[]string{"queue"},
	)
	notificationsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_delivered_total",
			Help: "Notifications handed to the mail transport, by category.",
		},
		[]string{"category"},
	)
	deliveriesDeduplicated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_deduplicated_total",
			Help: "Deliveries skipped because the same email was sent recently.",
		},
		[]string{"category"},
	)
	decodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_decode_failures_total",
			Help: "Payloads that could not be decoded, by topic.",
		},
		[]string{"topic"},
	)
	permissionCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_calls_total",
			Help: "Recipient lookups against the permission backend.",
		},
		[]string{"backend", "outcome"},
	)
	permissionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "permission_call_duration_seconds",
			Help:    "Recipient lookup latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)
	recipientCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipient_cache_lookups_total",
			Help: "Recipient cache lookups by result.",
		},
		[]string{"result"},
	)
	emailRenders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_renders_total",
			Help: "Emails rendered, by category and outcome.",
		},
		[]string{"category", "outcome"},
	)
	outboxPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_outbox_published_total",
			Help: "Email outbox rows published, by outcome.",
		},
		[]string{"outcome"},
	)
	digestLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "new_issues_digest_duration_seconds",
			Help:    "Time to compute and route one analysis digest.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

var registerOnce sync.Once

// Register is safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpLatency, kafkaConsumerLag, influxWriteFailures, asynqQueueDepth,
			notificationsDelivered, deliveriesDeduplicated, decodeFailures,
			permissionCalls, permissionLatency, recipientCache,
			emailRenders, outboxPublished, digestLatency,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func SetKafkaLag(topic string, group string, lag int64) {
	kafkaConsumerLag.WithLabelValues(topic, group).Set(float64(lag))
}

func IncInfluxWriteFailure() {
	influxWriteFailures.Inc()
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

func AddDelivered(category string, n int) {
	notificationsDelivered.WithLabelValues(category).Add(float64(n))
}

func IncDeduplicated(category string) {
	deliveriesDeduplicated.WithLabelValues(category).Inc()
}

func IncDecodeFailure(topic string) {
	decodeFailures.WithLabelValues(topic).Inc()
}

func ObservePermissionCall(backend string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	permissionCalls.WithLabelValues(backend, outcome).Inc()
	permissionLatency.WithLabelValues(backend).Observe(d.Seconds())
}

func IncRecipientCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	recipientCache.WithLabelValues(result).Inc()
}

func IncEmailRender(category string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	emailRenders.WithLabelValues(category, outcome).Inc()
}

func IncOutboxPublished(outcome string) {
	outboxPublished.WithLabelValues(outcome).Inc()
}

func ObserveDigestLatency(d time.Duration) {
	digestLatency.Observe(d.Seconds())
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
