// Package bigquery implements domain.Warehouse on the BigQuery jobs API.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"bqflow/internal/config"
	"bqflow/internal/domain"
)

var _ domain.Warehouse = (*Client)(nil)

// Client is a domain.Warehouse backed by one shared BigQuery client. The
// underlying client is built on first use, so constructing a Client never
// touches the network or the credentials file.
type Client struct {
	cfg    config.BigQueryConfig
	opts   []option.ClientOption
	logger *slog.Logger

	once sync.Once
	bq   *bq.Client
	err  error
}

// New creates a Client for cfg. Extra options are appended to the ones derived
// from cfg (tests use this to point at an emulator endpoint).
func New(cfg config.BigQueryConfig, logger *slog.Logger, opts ...option.ClientOption) *Client {
	var all []option.ClientOption
	if cfg.CredentialsFile != "" {
		all = append(all, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.CredentialsFile))
	}
	all = append(all, opts...)
	return &Client{cfg: cfg, opts: all, logger: logger}
}

func (c *Client) client(ctx context.Context) (*bq.Client, error) {
	c.once.Do(func() {
		if c.cfg.ProjectID == "" {
			c.err = domain.ErrValidation("BQ_PROJECT_ID is required")
			return
		}
		cl, err := bq.NewClient(context.WithoutCancel(ctx), c.cfg.ProjectID, c.opts...)
		if err != nil {
			c.err = fmt.Errorf("create BigQuery client: %w", err)
			return
		}
		if c.cfg.Location != "" {
			cl.Location = c.cfg.Location
		}
		c.bq = cl
		c.logger.Debug("bigquery client created", "project", c.cfg.ProjectID, "location", c.cfg.Location)
	})
	return c.bq, c.err
}

// Close releases the underlying client if it was ever built.
func (c *Client) Close() error {
	if c.bq == nil {
		return nil
	}
	return c.bq.Close()
}

// CreateDataset creates datasetID. An already existing dataset is not an error.
func (c *Client) CreateDataset(ctx context.Context, datasetID string) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	err = cl.Dataset(datasetID).Create(ctx, &bq.DatasetMetadata{Location: c.cfg.Location})
	if isAlreadyExists(err) {
		c.logger.Debug("dataset already exists", "dataset", datasetID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create dataset %s: %w", datasetID, err)
	}
	return nil
}

// DatasetExists reports whether datasetID exists.
func (c *Client) DatasetExists(ctx context.Context, datasetID string) (bool, error) {
	cl, err := c.client(ctx)
	if err != nil {
		return false, err
	}
	if _, err := cl.Dataset(datasetID).Metadata(ctx); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("get dataset %s: %w", datasetID, err)
	}
	return true, nil
}

// CreateTable creates datasetID.tableID with the given schema.
func (c *Client) CreateTable(ctx context.Context, datasetID, tableID string, fields []domain.Field) error {
	schema, err := toSchema(fields)
	if err != nil {
		return err
	}
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	if err := cl.Dataset(datasetID).Table(tableID).Create(ctx, &bq.TableMetadata{Schema: schema}); err != nil {
		if isAlreadyExists(err) {
			return domain.ErrConflict("table %s.%s already exists", datasetID, tableID)
		}
		return fmt.Errorf("create table %s.%s: %w", datasetID, tableID, err)
	}
	return nil
}

// DeleteTable drops datasetID.tableID. A missing table is not an error.
func (c *Client) DeleteTable(ctx context.Context, datasetID, tableID string) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	if err := cl.Dataset(datasetID).Table(tableID).Delete(ctx); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete table %s.%s: %w", datasetID, tableID, err)
	}
	return nil
}

// TableInfo returns existence and row count of datasetID.tableID.
func (c *Client) TableInfo(ctx context.Context, datasetID, tableID string) (domain.TableInfo, error) {
	cl, err := c.client(ctx)
	if err != nil {
		return domain.TableInfo{}, err
	}
	md, err := cl.Dataset(datasetID).Table(tableID).Metadata(ctx)
	if err != nil {
		if isNotFound(err) {
			return domain.TableInfo{}, nil
		}
		return domain.TableInfo{}, fmt.Errorf("get table %s.%s: %w", datasetID, tableID, err)
	}
	return domain.TableInfo{Exists: true, NumRows: md.NumRows}, nil
}

// Query submits query as an asynchronous job and returns its id.
func (c *Client) Query(ctx context.Context, query string) (string, error) {
	cl, err := c.client(ctx)
	if err != nil {
		return "", err
	}
	return c.submit(ctx, c.newQuery(cl, query))
}

// WriteToTable submits req.Query with req.Dataset.req.Table as destination.
func (c *Client) WriteToTable(ctx context.Context, req domain.WriteRequest) (string, error) {
	cl, err := c.client(ctx)
	if err != nil {
		return "", err
	}
	q := c.newQuery(cl, req.Query)
	q.Dst = cl.Dataset(req.Dataset).Table(req.Table)
	q.CreateDisposition = bq.TableCreateDisposition(req.CreateDisposition)
	q.WriteDisposition = bq.TableWriteDisposition(req.WriteDisposition)
	q.AllowLargeResults = req.AllowLargeResults
	return c.submit(ctx, q)
}

func (c *Client) newQuery(cl *bq.Client, query string) *bq.Query {
	q := cl.Query(query)
	q.JobID = domain.NewJobID()
	q.Location = c.cfg.Location
	return q
}

func (c *Client) submit(ctx context.Context, q *bq.Query) (string, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return "", err
	}
	return job.ID(), nil
}

// CheckJob reports whether jobID finished and, if so, how many rows it produced.
// A job that finished with an error is reported as an error.
func (c *Client) CheckJob(ctx context.Context, jobID string) (domain.JobStatus, error) {
	job, err := c.job(ctx, jobID)
	if err != nil {
		return domain.JobStatus{}, err
	}
	status, err := job.Status(ctx)
	if err != nil {
		return domain.JobStatus{}, fmt.Errorf("get status: %w", err)
	}
	if !status.Done() {
		return domain.JobStatus{}, nil
	}
	if err := status.Err(); err != nil {
		return domain.JobStatus{}, fmt.Errorf("job failed: %w", err)
	}

	it, err := job.Read(ctx)
	if err != nil {
		return domain.JobStatus{}, fmt.Errorf("read result: %w", err)
	}
	it.PageInfo().MaxSize = 1
	var row []bq.Value
	if err := it.Next(&row); err != nil && !errors.Is(err, iterator.Done) {
		return domain.JobStatus{}, fmt.Errorf("read result: %w", err)
	}
	return domain.JobStatus{Complete: true, ResultSize: int64(it.TotalRows)}, nil
}

// CancelJob requests cancellation of jobID. BigQuery cancels asynchronously.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	job, err := c.job(ctx, jobID)
	if err != nil {
		return err
	}
	if err := job.Cancel(ctx); err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	return nil
}

// ReadRows returns up to limit rows of the result of a finished job.
func (c *Client) ReadRows(ctx context.Context, jobID string, limit int) (*domain.RowSet, error) {
	job, err := c.job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	it, err := job.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read job %s: %w", jobID, err)
	}
	if limit > 0 {
		it.PageInfo().MaxSize = limit
	}

	rs := &domain.RowSet{}
	for limit <= 0 || len(rs.Rows) < limit {
		var row []bq.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read job %s: %w", jobID, err)
		}
		rs.Rows = append(rs.Rows, toRow(row))
	}
	rs.Columns = columnNames(it.Schema)
	rs.TotalRows = it.TotalRows
	return rs, nil
}

func (c *Client) job(ctx context.Context, jobID string) (*bq.Job, error) {
	cl, err := c.client(ctx)
	if err != nil {
		return nil, err
	}
	job, err := cl.JobFromIDLocation(ctx, jobID, c.cfg.Location)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrNotFound("job %s not found", jobID)
		}
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

func toRow(values []bq.Value) []interface{} {
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}
	return row
}

func columnNames(schema bq.Schema) []string {
	names := make([]string, len(schema))
	for i, f := range schema {
		names[i] = f.Name
	}
	return names
}
