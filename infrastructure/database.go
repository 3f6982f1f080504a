package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cv-copilot/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

type DatabaseConfig struct {
	// Driver is one of mysql, postgres or sqlite.
	Driver string
	DSN    string
	Seed   bool
	Debug  bool
}

// OpenDatabase connects, migrates the schema and seeds job postings into an empty database.
func OpenDatabase(ctx context.Context, cfg DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is required")
	}

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "", "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	level := gormLogger.Warn
	if cfg.Debug {
		level = gormLogger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	if cfg.Seed {
		if err := SeedJobPostings(ctx, db); err != nil {
			return nil, err
		}
	}

	logger.Info("database ready", zap.String("driver", db.Dialector.Name()))
	return db, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&domain.JobPosting{},
		&domain.Upload{},
		&domain.Evaluation{},
		&domain.CVDetail{},
		&domain.ChatMessage{},
	)
	if err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}

type rubricCriterion struct {
	Weight   int    `json:"weight"`
	Criteria string `json:"criteria"`
}

var backendRubric = map[string]rubricCriterion{
	"experience": {
		Weight:   25,
		Criteria: "Years of backend development, project complexity, system scaling experience",
	},
	"achievements": {
		Weight:   20,
		Criteria: "Impactful projects, performance improvements, AI feature implementations",
	},
	"cultural_fit": {
		Weight:   15,
		Criteria: "Communication, learning attitude, remote work capability",
	},
	"technical_skills": {
		Weight:   40,
		Criteria: "Backend languages (Go, PHP), databases (MySQL), message queues (RabbitMQ), API design, AI integration",
	},
}

// SeedJobPostings inserts the default postings when the table is empty.
func SeedJobPostings(ctx context.Context, db *gorm.DB) error {
	var count int64
	if err := db.WithContext(ctx).Model(&domain.JobPosting{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count job postings: %w", err)
	}
	if count > 0 {
		return nil
	}

	rubric, err := json.Marshal(backendRubric)
	if err != nil {
		return fmt.Errorf("encode rubric: %w", err)
	}

	jobs := []domain.JobPosting{
		{
			ID:    uuid.NewString(),
			Title: "Product Engineer (Backend)",
			Description: "Product Engineer (Backend) with focus on Go, PHP, MySQL, RabbitMQ, AI/LLM integration, " +
				"and building scalable backend systems. Experience with RESTful APIs, database management, cloud technologies, " +
				"and AI-powered features is required.",
			Requirements: []string{
				"3+ years of backend development",
				"Experience with message queues and asynchronous processing",
				"Hands-on LLM integration: prompt design, chaining, RAG",
			},
			Rubric: string(rubric),
		},
		{
			ID:          uuid.NewString(),
			Title:       "Senior Software Engineer",
			Description: "We are looking for a Senior Software Engineer to join our team.",
			Requirements: []string{
				"5+ years of experience in software development",
				"Proficiency in TypeScript and Node.js",
				"Experience with NestJS is a plus",
			},
		},
	}
	if err := db.WithContext(ctx).Create(&jobs).Error; err != nil {
		return fmt.Errorf("seed job postings: %w", err)
	}
	return nil
}
