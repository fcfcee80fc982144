package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prodetect/aml-engine/configs"
	"github.com/prodetect/aml-engine/internal/audit"
	"github.com/prodetect/aml-engine/internal/models"
	"github.com/prodetect/aml-engine/internal/monitoring"
	"github.com/prodetect/aml-engine/internal/queue"
	"github.com/prodetect/aml-engine/internal/repositories"
)

// This worker consumes the core-banking transaction feed from Kafka and runs
// each posting through the monitoring engine. The Redis Stream worker handles
// API-submitted transactions; this one covers the bank's own posting systems,
// which publish to Kafka rather than calling the API.

// CoreBankingMessage is the envelope published by the core-banking connector
type CoreBankingMessage struct {
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"` // posting, reversal
	Payload     json.RawMessage `json:"payload"`
	PublishedAt int64           `json:"published_at_ms"`
	Source      string          `json:"source"`
}

// CoreBankingPosting is the transaction payload inside the envelope
type CoreBankingPosting struct {
	CustomerID         string  `json:"customer_id"`
	AccountNumber      string  `json:"account_number"`
	Amount             float64 `json:"amount"`
	Currency           string  `json:"currency"`
	TransactionType    string  `json:"transaction_type"`
	TransactionMethod  string  `json:"transaction_method"`
	Channel            string  `json:"channel"`
	BeneficiaryName    string  `json:"beneficiary_name"`
	BeneficiaryAccount string  `json:"beneficiary_account"`
	BeneficiaryBank    string  `json:"beneficiary_bank"`
	BeneficiaryCountry string  `json:"beneficiary_country"`
	ValueDate          string  `json:"value_date"` // RFC 3339
	Reference          string  `json:"reference"`
}

// PipelineMetrics tracks live consumption metrics
type PipelineMetrics struct {
	mu                  sync.RWMutex
	Processed           int64
	Failed              int64
	Suspicious          int64
	AlertsRaised        int64
	ChannelDistribution map[string]int64
	LastEventTime       time.Time
	EventsPerSecond     float64
	windowStart         time.Time
	windowCount         int64
}

func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		ChannelDistribution: make(map[string]int64),
		windowStart:         time.Now(),
	}
}

func (m *PipelineMetrics) Record(channel string, suspicious bool, alerts int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastEventTime = time.Now()
	m.windowCount++

	// Calculate events per second
	elapsed := time.Since(m.windowStart).Seconds()
	if elapsed > 0 {
		m.EventsPerSecond = float64(m.windowCount) / elapsed
	}

	// Reset window every minute
	if elapsed > 60 {
		m.windowStart = time.Now()
		m.windowCount = 0
	}

	m.Processed++
	m.AlertsRaised += int64(alerts)
	if suspicious {
		m.Suspicious++
	}
	m.ChannelDistribution[channel]++
}

func (m *PipelineMetrics) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failed++
}

func (m *PipelineMetrics) GetSnapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"processed":            m.Processed,
		"failed":               m.Failed,
		"suspicious":           m.Suspicious,
		"alerts_raised":        m.AlertsRaised,
		"events_per_second":    m.EventsPerSecond,
		"channel_distribution": m.ChannelDistribution,
		"last_event_time":      m.LastEventTime,
	}
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENVIRONMENT") == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Info().Msg("Starting core-banking Kafka monitoring pipeline")

	// Load configuration
	cfg := configs.Load()

	brokers := strings.Split(cfg.Kafka.Brokers, ",")
	topics := strings.Split(cfg.Kafka.Topics, ",")

	// Connect to database
	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Connect to Redis (rule snapshot cache and recent-alert feed)
	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer cacheClient.Close()

	// Initialize repositories and the monitoring engine
	customerRepo := repositories.NewCustomerRepository(db)
	txRepo := repositories.NewTransactionRepository(db)
	ruleRepo := repositories.NewRuleRepository(db)
	alertRepo := repositories.NewAlertRepository(db)
	monitoringStore := repositories.NewMonitoringStore(db, txRepo, alertRepo, ruleRepo)

	snapshot := monitoring.NewSnapshotProvider(ruleRepo, cacheClient)
	engine := monitoring.NewEngine(customerRepo, txRepo, snapshot, monitoringStore, cfg.Compliance)

	// Initialize real-time metrics
	metrics := NewPipelineMetrics()

	// Create Kafka consumer
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V3_0_0_0

	// Retry connecting to Kafka
	var consumerGroup sarama.ConsumerGroup
	for i := 0; i < 30; i++ {
		consumerGroup, err = sarama.NewConsumerGroup(brokers, cfg.Kafka.GroupID, config)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer group after retries")
	}
	defer consumerGroup.Close()

	// Create consumer handler
	handler := &MonitoringPipelineHandler{
		engine:      engine,
		metrics:     metrics,
		cacheClient: cacheClient,
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received, stopping pipeline...")
		cancel()
	}()

	// Start metrics reporter (logs every 30 seconds)
	go handler.startMetricsReporter(ctx)

	// Start consuming
	log.Info().
		Strs("brokers", brokers).
		Strs("topics", topics).
		Str("group_id", cfg.Kafka.GroupID).
		Msg("Pipeline started - consuming core-banking events")

	for {
		if err := consumerGroup.Consume(ctx, topics, handler); err != nil {
			log.Error().Err(err).Msg("Error from consumer")
		}

		if ctx.Err() != nil {
			log.Info().Msg("Context cancelled, shutting down pipeline")
			return
		}
	}
}

// MonitoringPipelineHandler runs core-banking postings through the engine
type MonitoringPipelineHandler struct {
	engine      *monitoring.Engine
	metrics     *PipelineMetrics
	cacheClient *queue.CacheClient
}

func (h *MonitoringPipelineHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Monitoring pipeline session started")
	return nil
}

func (h *MonitoringPipelineHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Monitoring pipeline session ended")
	return nil
}

func (h *MonitoringPipelineHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			h.processMessage(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *MonitoringPipelineHandler) processMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	var envelope CoreBankingMessage
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		log.Error().Err(err).Msg("Failed to parse core-banking message")
		h.metrics.RecordFailure()
		return
	}

	// Reversals undo a prior posting; they carry no new exposure
	if envelope.EventType == "reversal" {
		log.Debug().Str("event_id", envelope.EventID).Msg("Skipping reversal event")
		return
	}

	var posting CoreBankingPosting
	if err := json.Unmarshal(envelope.Payload, &posting); err != nil {
		log.Error().Err(err).Str("event_id", envelope.EventID).Msg("Failed to parse posting payload")
		h.metrics.RecordFailure()
		return
	}

	event := toTransactionEvent(&posting)

	txn, alerts, err := h.engine.ProcessTransaction(ctx, audit.SystemActor, event)
	if err != nil {
		log.Error().
			Err(err).
			Str("event_id", envelope.EventID).
			Str("customer_id", posting.CustomerID).
			Msg("Failed to monitor posting")
		h.metrics.RecordFailure()
		return
	}

	h.metrics.Record(event.Channel, txn.IsSuspicious, len(alerts))
	h.recordDailyCounters(ctx, txn.IsSuspicious, len(alerts))

	if txn.IsSuspicious {
		log.Warn().
			Str("transaction", txn.ReferenceNumber).
			Float64("risk_score", txn.RiskScore).
			Int("alerts", len(alerts)).
			Msg("Suspicious posting from core banking")
	}

	h.publishRecentAlerts(ctx, alerts)
}

func toTransactionEvent(posting *CoreBankingPosting) *models.TransactionEvent {
	valueDate, err := time.Parse(time.RFC3339, posting.ValueDate)
	if err != nil {
		valueDate = time.Now().UTC()
	}

	return &models.TransactionEvent{
		CustomerID:         posting.CustomerID,
		AccountNumber:      posting.AccountNumber,
		Amount:             posting.Amount,
		Currency:           posting.Currency,
		TransactionType:    posting.TransactionType,
		TransactionMethod:  posting.TransactionMethod,
		Channel:            posting.Channel,
		BeneficiaryName:    posting.BeneficiaryName,
		BeneficiaryAccount: posting.BeneficiaryAccount,
		BeneficiaryBank:    posting.BeneficiaryBank,
		BeneficiaryCountry: posting.BeneficiaryCountry,
		TransactionDate:    valueDate,
		ExternalReference:  posting.Reference,
	}
}

// publishRecentAlerts keeps the latest alerts in Redis for dashboard access
func (h *MonitoringPipelineHandler) publishRecentAlerts(ctx context.Context, alerts []*models.Alert) {
	for _, alert := range alerts {
		alertJSON, err := json.Marshal(alert)
		if err != nil {
			continue
		}

		h.cacheClient.LPush(ctx, queue.RecentAlertsKey, string(alertJSON))
		h.cacheClient.LTrim(ctx, queue.RecentAlertsKey, 0, 999) // Keep last 1000 alerts
	}
}

// recordDailyCounters maintains the shared per-day throughput counters the
// API dashboard reads. The in-memory metrics cover this process; the Redis
// hash covers the fleet.
func (h *MonitoringPipelineHandler) recordDailyCounters(ctx context.Context, suspicious bool, alerts int) {
	key := queue.PipelineStatsKey(time.Now().UTC().Format("20060102"))
	h.cacheClient.HIncrBy(ctx, key, "processed", 1)
	if suspicious {
		h.cacheClient.HIncrBy(ctx, key, "suspicious", 1)
	}
	if alerts > 0 {
		h.cacheClient.HIncrBy(ctx, key, "alerts", int64(alerts))
	}
}

func (h *MonitoringPipelineHandler) startMetricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snapshot := h.metrics.GetSnapshot()
			log.Info().
				Int64("processed", snapshot["processed"].(int64)).
				Int64("failed", snapshot["failed"].(int64)).
				Int64("suspicious", snapshot["suspicious"].(int64)).
				Int64("alerts_raised", snapshot["alerts_raised"].(int64)).
				Float64("events_per_sec", snapshot["events_per_second"].(float64)).
				Msg("Pipeline metrics")

		case <-ctx.Done():
			return
		}
	}
}
