package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// AddImage attaches an image to a task.
func (s *Store) AddImage(ctx context.Context, img *TaskImage) error {
	img.CreatedAt = s.now().UTC()
	err := s.write(ctx, "add image", func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO task_images (task_id, file_ref, storage_path, created_at) VALUES (?, ?, ?, ?)`,
			img.TaskID, img.FileRef, nullString(img.StoragePath), img.CreatedAt)
		if err != nil {
			return err
		}
		img.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return fmt.Errorf("add image to task %d: %w", img.TaskID, err)
	}
	s.log.Info("image attached", slog.Int64("task_id", img.TaskID), slog.Int64("image_id", img.ID))
	return nil
}

// ListImages returns the images of a task in attachment order.
func (s *Store) ListImages(ctx context.Context, taskID int64) ([]TaskImage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, file_ref, storage_path, created_at FROM task_images WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list images of task %d: %w", taskID, err)
	}
	defer func() { _ = rows.Close() }()

	var images []TaskImage
	for rows.Next() {
		var (
			img  TaskImage
			path sql.NullString
		)
		if err := rows.Scan(&img.ID, &img.TaskID, &img.FileRef, &path, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("list images of task %d: %w", taskID, err)
		}
		img.StoragePath = path.String
		images = append(images, img)
	}
	return images, rows.Err()
}
