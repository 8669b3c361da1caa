package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"attendify/internal/attendance"
	"attendify/internal/checkin"
	"attendify/internal/config"
	"attendify/internal/geo"
	"attendify/internal/logger"
	"attendify/internal/queue"
	"attendify/internal/store"
)

// The worker drains the record queue and persists attendance records, so a
// slow database never blocks a student's check-in response.
func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("db not reachable")
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisDialTimeout, cfg.RedisOpTimeout)
	q := queue.NewRedisQueue(redisClient.Client, "attendify:records")

	repo := attendance.NewRepository(db.Client)
	sessions := attendance.NewManager(repo, log, cfg.QRTokenTTL, geo.RadiusBounds{})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	msgs, err := q.Consume(ctx)
	if err != nil {
		log.WithError(err).Fatal("queue consume failed")
	}

	log.Info("record worker started")

	for msg := range msgs {
		if msg.Type != "record" {
			log.WithField("type", msg.Type).Warn("skipping unknown message")
			continue
		}

		var rec checkin.AttendanceRecord
		if err := json.Unmarshal(msg.Body, &rec); err != nil {
			log.WithError(err).Error("malformed record message")
			continue
		}

		if err := sessions.SaveRecord(ctx, rec); err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"record_id":  rec.ID,
				"session_id": rec.SessionID,
			}).Error("record persist failed")
			continue
		}

		log.WithFields(logrus.Fields{
			"record_id":  rec.ID,
			"student_id": rec.StudentID,
			"status":     rec.Status,
		}).Info("record persisted")
	}

	log.Info("record worker stopped")
}
