package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"github.com/xaenox/telepharm/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type PostgresStorage struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

func NewPostgresStorage(config DatabaseConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	storage := &PostgresStorage{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}

	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

const insertMessageSQL = `
	INSERT INTO messages (
		message_id, channel, scrape_date, message_date, sender_id,
		text, has_image, image_file, message_length
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (message_id) DO NOTHING`

func (s *PostgresStorage) InsertMessages(ctx context.Context, msgs []models.Message) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin insert transaction: %w: %v", ErrUnavailable, err)
	}

	inserted, skipped := 0, 0
	for _, msg := range msgs {
		res, err := tx.ExecContext(ctx, insertMessageSQL,
			msg.MessageID,
			msg.Channel,
			msg.ScrapeDate,
			msg.MessageDate,
			msg.SenderID,
			msg.Text,
			msg.HasImage,
			msg.ImageFile,
			msg.MessageLength,
		)
		if err != nil {
			_ = tx.Rollback()
			return 0, 0, fmt.Errorf("insert message %d: %w", msg.MessageID, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			_ = tx.Rollback()
			return 0, 0, fmt.Errorf("rows affected for message %d: %w", msg.MessageID, err)
		}
		if affected == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit insert transaction: %w", err)
	}

	return inserted, skipped, nil
}

func (s *PostgresStorage) ImageMessages(ctx context.Context, onlyUnclassified bool) ([]models.ImageRef, error) {
	q := s.sb.Select("message_id", "image_file").
		From("messages").
		Where(sq.Eq{"has_image": true}).
		Where(sq.NotEq{"image_file": nil}).
		OrderBy("message_id")
	if onlyUnclassified {
		q = q.Where("message_id NOT IN (SELECT message_id FROM classifications)")
	}

	rows, err := q.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query image messages: %w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var refs []models.ImageRef
	for rows.Next() {
		var ref models.ImageRef
		if err := rows.Scan(&ref.MessageID, &ref.ImageFile); err != nil {
			return nil, fmt.Errorf("scan image message: %w", err)
		}
		refs = append(refs, ref)
	}

	return refs, rows.Err()
}

const insertClassificationSQL = `
	INSERT INTO classifications (message_id, image_file, object_class, confidence)
	VALUES ($1, $2, $3, $4)`

func (s *PostgresStorage) SaveClassifications(ctx context.Context, messageID int64, rows []models.Classification, replace bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin classification transaction: %w: %v", ErrUnavailable, err)
	}

	if replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM classifications WHERE message_id = $1`, messageID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("delete classifications for message %d: %w", messageID, err)
		}
	}

	for _, row := range rows {
		_, err := tx.ExecContext(ctx, insertClassificationSQL,
			messageID, row.ImageFile, row.ObjectClass, row.Confidence)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert classification for message %d: %w", messageID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit classification transaction: %w", err)
	}

	return nil
}

func (s *PostgresStorage) TextMentionCounts(ctx context.Context, products []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(products))
	for _, product := range products {
		var n int64
		err := s.sb.Select("COUNT(*)").
			From("messages").
			Where(sq.ILike{"text": "%" + product + "%"}).
			RunWith(s.db).
			QueryRowContext(ctx).
			Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("count text mentions of %q: %w: %v", product, ErrUnavailable, err)
		}
		if n > 0 {
			counts[product] = n
		}
	}
	return counts, nil
}

func (s *PostgresStorage) ImageLabelCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.sb.Select("object_class", "COUNT(*)").
		From("classifications").
		GroupBy("object_class").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("count image labels: %w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var class string
		var n int64
		if err := rows.Scan(&class, &n); err != nil {
			return nil, fmt.Errorf("scan image label count: %w", err)
		}
		counts[class] = n
	}

	return counts, rows.Err()
}

func (s *PostgresStorage) DailyCounts(ctx context.Context, channel string) ([]DailyCount, error) {
	rows, err := s.sb.Select(
		"scrape_date::text",
		"COUNT(*)",
		"COUNT(*) FILTER (WHERE has_image)").
		From("messages").
		Where(sq.Eq{"channel": channel}).
		GroupBy("scrape_date").
		OrderBy("scrape_date DESC").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query daily counts: %w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var counts []DailyCount
	for rows.Next() {
		var dc DailyCount
		if err := rows.Scan(&dc.Date, &dc.MessageCount, &dc.ImageCount); err != nil {
			return nil, fmt.Errorf("scan daily count: %w", err)
		}
		counts = append(counts, dc)
	}

	return counts, rows.Err()
}

func (s *PostgresStorage) DailyDetections(ctx context.Context, channel string) (map[string][]models.ObjectDetectionStat, error) {
	rows, err := s.sb.Select(
		"m.scrape_date::text",
		"c.object_class",
		"COUNT(c.classification_id)",
		"AVG(c.confidence)").
		From("classifications c").
		Join("messages m ON m.message_id = c.message_id").
		Where(sq.Eq{"m.channel": channel}).
		GroupBy("m.scrape_date", "c.object_class").
		OrderBy("m.scrape_date DESC", "c.object_class ASC").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query daily detections: %w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	detections := make(map[string][]models.ObjectDetectionStat)
	for rows.Next() {
		var date string
		var stat models.ObjectDetectionStat
		if err := rows.Scan(&date, &stat.ObjectClass, &stat.DetectionCount, &stat.AvgConfidence); err != nil {
			return nil, fmt.Errorf("scan daily detection: %w", err)
		}
		detections[date] = append(detections[date], stat)
	}

	return detections, rows.Err()
}

func (s *PostgresStorage) SearchMessages(ctx context.Context, query string, limit int) ([]models.SearchHit, error) {
	rows, err := s.sb.Select("message_id", "channel", "message_date", "text").
		From("messages").
		Where(sq.ILike{"text": "%" + query + "%"}).
		OrderBy("message_date DESC").
		Limit(uint64(limit)).
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var hits []models.SearchHit
	for rows.Next() {
		var hit models.SearchHit
		var posted sql.NullTime
		if err := rows.Scan(&hit.MessageID, &hit.ChannelName, &posted, &hit.Text); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		if posted.Valid {
			hit.MessageDate = posted.Time
		}
		hits = append(hits, hit)
	}

	return hits, rows.Err()
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
