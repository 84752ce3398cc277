package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "optionflow/config"
	"optionflow/internal/metrics"
	"optionflow/logger"
	"optionflow/models"
)

const component = "archive_writer"

const uploadTimeout = 30 * time.Second

// ParquetTrade is the row layout of an archived reset batch.
type ParquetTrade struct {
	BatchID     string  `parquet:"name=batch_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ID          string  `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp   int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	StockID     int64   `parquet:"name=stock_id, type=INT64"`
	Symbol      string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	OptionLabel string  `parquet:"name=option_label, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price       float64 `parquet:"name=price, type=DOUBLE"`
	Quantity    int64   `parquet:"name=quantity, type=INT64"`
	Type        string  `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Strike      float64 `parquet:"name=strike, type=DOUBLE"`
	Expiration  string  `parquet:"name=expiration, type=BYTE_ARRAY, convertedtype=UTF8"`
	IV          float64 `parquet:"name=iv, type=DOUBLE"`
	Delta       float64 `parquet:"name=delta, type=DOUBLE"`
	Gamma       float64 `parquet:"name=gamma, type=DOUBLE"`
	Theta       float64 `parquet:"name=theta, type=DOUBLE"`
	Vega        float64 `parquet:"name=vega, type=DOUBLE"`
	Rho         float64 `parquet:"name=rho, type=DOUBLE"`
}

// memoryFileWriter implements source.ParquetFile over a bytes.Buffer so a
// batch can be encoded before upload.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) { return mfw, nil }

// Seek only reports the write offset; the parquet writer never seeks back.
func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) { return mfw.buffer.Read(b) }

func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }

func (mfw *memoryFileWriter) Close() error { return nil }

func (mfw *memoryFileWriter) Bytes() []byte { return mfw.buffer.Bytes() }

// ObjectPutter is the part of the S3 client the archive needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArchiveWriter persists trades cleared by a service reset as parquet, either
// under a local directory or in an S3 bucket. Batches are queued by Archive
// and written by a single worker.
type ArchiveWriter struct {
	cfg     appconfig.ArchiveConfig
	version string
	queue   chan models.TradeBatch
	s3      ObjectPutter
	events  *metrics.Recorder
	log     *logger.Log

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

type Option func(*ArchiveWriter)

func WithRecorder(r *metrics.Recorder) Option {
	return func(w *ArchiveWriter) { w.events = r }
}

func WithLogger(l *logger.Log) Option {
	return func(w *ArchiveWriter) { w.log = l }
}

// WithObjectPutter replaces the S3 client built from the configuration.
func WithObjectPutter(p ObjectPutter) Option {
	return func(w *ArchiveWriter) { w.s3 = p }
}

// WithVersion tags uploaded objects with the application version.
func WithVersion(v string) Option {
	return func(w *ArchiveWriter) { w.version = v }
}

// NewArchiveWriter prepares the destination. With S3 enabled an S3 client is
// created from the static keys or the default credential chain; otherwise
// the local directory is created.
func NewArchiveWriter(ctx context.Context, cfg appconfig.ArchiveConfig, opts ...Option) (*ArchiveWriter, error) {
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = 16
	}
	w := &ArchiveWriter{
		cfg:   cfg,
		queue: make(chan models.TradeBatch, queueSize),
		log:   logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}

	log := w.log.WithComponent(component)
	if cfg.S3.Enabled {
		if w.s3 == nil {
			client, err := newS3Client(ctx, cfg.S3)
			if err != nil {
				log.WithError(err).WithEnv("AWS_REGION", "ARCHIVE_S3_BUCKET").Warn("failed to initialise s3 client")
				return nil, err
			}
			w.s3 = client
		}
		log.WithFields(logger.Fields{
			"bucket":     cfg.S3.Bucket,
			"region":     cfg.S3.Region,
			"endpoint":   cfg.S3.Endpoint,
			"path_style": cfg.S3.PathStyle,
		}).Info("archive writer initialized")
		return w, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory %s: %w", cfg.Dir, err)
	}
	log.WithFields(logger.Fields{"dir": cfg.Dir}).Info("archive writer initialized")
	return w, nil
}

func newS3Client(ctx context.Context, cfg appconfig.S3Config) (*s3.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, errors.New("aws credentials not found")
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// Archive queues batch without blocking. It reports false when the queue is
// full and the batch was dropped.
func (w *ArchiveWriter) Archive(batch models.TradeBatch) bool {
	select {
	case w.queue <- batch:
		return true
	default:
		w.dropped.Add(1)
		w.log.WithComponent(component).WithFields(logger.Fields{
			"batch_id":     batch.BatchID,
			"record_count": batch.RecordCount,
			"queue_size":   cap(w.queue),
		}).Warn("archive queue full, dropping batch")
		w.events.Event(component, metrics.EventArchiveFailed, logger.Fields{"batch_id": batch.BatchID, "reason": "queue_full"})
		return false
	}
}

func (w *ArchiveWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("archive writer already running")
	}
	w.running = true

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.worker(ctx)

	w.log.WithComponent(component).Info("archive writer started")
	return nil
}

// Stop waits for the worker to write what is already queued.
func (w *ArchiveWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
	w.log.WithComponent(component).Info("archive writer stopped")
}

// Counts returns written, failed and dropped batch totals.
func (w *ArchiveWriter) Counts() (written, failed, dropped int64) {
	return w.written.Load(), w.failed.Load(), w.dropped.Load()
}

func (w *ArchiveWriter) worker(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			w.drain(ctx)
			return
		case batch := <-w.queue:
			w.processBatch(ctx, batch)
		}
	}
}

func (w *ArchiveWriter) drain(ctx context.Context) {
	for {
		select {
		case batch := <-w.queue:
			w.processBatch(ctx, batch)
		default:
			return
		}
	}
}

func (w *ArchiveWriter) processBatch(ctx context.Context, batch models.TradeBatch) {
	log := w.log.WithComponent(component).WithFields(logger.Fields{
		"batch_id":     batch.BatchID,
		"record_count": len(batch.Trades),
		"operation":    "process_batch",
	})

	if len(batch.Trades) == 0 {
		log.Debug("batch has no records, skipping")
		return
	}

	start := time.Now()
	location, size, err := w.write(ctx, batch)
	if err != nil {
		w.failed.Add(1)
		log.WithError(err).Error("failed to archive batch")
		w.events.Event(component, metrics.EventArchiveFailed, logger.Fields{"batch_id": batch.BatchID, "reason": err.Error()})
		return
	}

	w.written.Add(1)
	w.events.Event(component, metrics.EventArchiveWritten, logger.Fields{
		"batch_id":     batch.BatchID,
		"record_count": len(batch.Trades),
		"location":     location,
		"file_size":    size,
	})
	logger.LogPerformanceEntry(log, component, "archive_batch", time.Since(start), logger.Fields{"location": location})
}

func (w *ArchiveWriter) write(ctx context.Context, batch models.TradeBatch) (string, int64, error) {
	name := objectName(batch)

	if w.cfg.S3.Enabled {
		fw := newMemoryFileWriter()
		if err := w.writeParquet(fw, batch); err != nil {
			return "", 0, err
		}
		key := path.Join(w.cfg.S3.Prefix, name)
		data := fw.Bytes()
		if err := w.upload(ctx, key, data); err != nil {
			return "", 0, err
		}
		return fmt.Sprintf("s3://%s/%s", w.cfg.S3.Bucket, key), int64(len(data)), nil
	}

	target := filepath.Join(w.cfg.Dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create archive partition: %w", err)
	}
	fw, err := local.NewLocalFileWriter(target)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create parquet file %s: %w", target, err)
	}
	if err := w.writeParquet(fw, batch); err != nil {
		fw.Close()
		return "", 0, err
	}
	if err := fw.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to close parquet file: %w", err)
	}
	var size int64
	if info, err := os.Stat(target); err == nil {
		size = info.Size()
	}
	return target, size, nil
}

func (w *ArchiveWriter) writeParquet(fw source.ParquetFile, batch models.TradeBatch) error {
	pw, err := pqwriter.NewParquetWriter(fw, new(ParquetTrade), 1)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch w.cfg.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, t := range batch.Trades {
		if err := pw.Write(toParquet(batch.BatchID, t)); err != nil {
			pw.WriteStop()
			return fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return nil
}

func toParquet(batchID string, t models.Trade) ParquetTrade {
	return ParquetTrade{
		BatchID:     batchID,
		ID:          t.ID,
		Timestamp:   t.Time().UnixMilli(),
		StockID:     t.StockID,
		Symbol:      t.Symbol,
		OptionLabel: t.OptionLabel,
		Price:       t.Price,
		Quantity:    t.Quantity,
		Type:        t.Type,
		Strike:      t.Strike,
		Expiration:  t.Expiration,
		IV:          t.IV,
		Delta:       t.Delta,
		Gamma:       t.Gamma,
		Theta:       t.Theta,
		Vega:        t.Vega,
		Rho:         t.Rho,
	}
}

func (w *ArchiveWriter) upload(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uploadTimeout)
	defer cancel()

	_, err := w.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.cfg.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":       "parquet",
			"compression":        w.cfg.Compression,
			"optionflow-version": w.version,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", w.cfg.S3.Bucket, err)
	}
	return nil
}

// objectName partitions archives by reset date.
func objectName(batch models.TradeBatch) string {
	ts := batch.Timestamp.UTC()
	return path.Join(
		fmt.Sprintf("date=%s", ts.Format("2006-01-02")),
		fmt.Sprintf("reset_%s_%s.parquet", ts.Format("20060102T150405"), batch.BatchID),
	)
}
