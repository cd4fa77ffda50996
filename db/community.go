package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibstudy-server/models"
)

const postSelect = `
	SELECT p.id, p.title, p.content, p.subject, u.display_name, p.author_id,
		COALESCE((SELECT SUM(v.value) FROM votes v WHERE v.post_id = p.id), 0),
		COALESCE((SELECT v.value FROM votes v WHERE v.post_id = p.id AND v.user_id = $1), 0),
		(SELECT COUNT(*) FROM comments c WHERE c.post_id = p.id),
		p.created_at
	FROM posts p JOIN users u ON p.author_id = u.id`

func scanPost(row pgx.Row) (models.CommunityPost, error) {
	var p models.CommunityPost
	err := row.Scan(&p.ID, &p.Title, &p.Content, &p.Subject, &p.Author, &p.AuthorID,
		&p.Votes, &p.UserVote, &p.CommentCount, &p.CreatedAt)
	return p, err
}

// ListPosts returns one page of the feed, newest first, with the viewer's vote on each post.
func ListPosts(ctx context.Context, pool *pgxpool.Pool, viewerID, subject string, page, perPage int) (models.PostPage, error) {
	out := models.PostPage{Page: page, PerPage: perPage, Posts: []models.CommunityPost{}}
	err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM posts WHERE $1 = '' OR subject = $1`, subject).Scan(&out.Total)
	if err != nil {
		return out, fmt.Errorf("failed to count posts: %w", err)
	}
	rows, err := pool.Query(ctx, postSelect+`
		WHERE $2 = '' OR p.subject = $2
		ORDER BY p.created_at DESC
		LIMIT $3 OFFSET $4`, viewerID, subject, perPage, (page-1)*perPage)
	if err != nil {
		return out, fmt.Errorf("failed to query posts: %w", err)
	}
	posts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.CommunityPost, error) {
		return scanPost(row)
	})
	if err != nil {
		return out, fmt.Errorf("failed to scan posts: %w", err)
	}
	out.Posts = append(out.Posts, posts...)
	out.HasMore = page*perPage < out.Total
	return out, nil
}

// GetPost loads one post as seen by viewerID.
func GetPost(ctx context.Context, pool *pgxpool.Pool, viewerID, id string) (models.CommunityPost, error) {
	p, err := scanPost(pool.QueryRow(ctx, postSelect+` WHERE p.id = $2`, viewerID, id))
	if err != nil {
		return models.CommunityPost{}, notFound(err, "get post")
	}
	return p, nil
}

// CreatePost inserts a post whose content has already been sanitised.
func CreatePost(ctx context.Context, pool *pgxpool.Pool, authorID, title, content, subject string) (string, error) {
	id := uuid.NewString()
	_, err := pool.Exec(ctx, `
		INSERT INTO posts (id, author_id, title, content, subject) VALUES ($1, $2, $3, $4, $5)`,
		id, authorID, title, content, subject)
	if err != nil {
		return "", fmt.Errorf("failed to create post: %w", err)
	}
	return id, nil
}

// DeletePost removes a post written by authorID.
func DeletePost(ctx context.Context, pool *pgxpool.Pool, authorID, id string) error {
	tag, err := pool.Exec(ctx, `DELETE FROM posts WHERE id = $1 AND author_id = $2`, id, authorID)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetVote stores the caller's vote as given. Setting the same value twice is a
// no-op that still returns the totals; there is no server-side toggle.
func SetVote(ctx context.Context, pool *pgxpool.Pool, userID, postID string, value int) (models.VoteResult, error) {
	res := models.VoteResult{PostID: postID, UserVote: value}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to begin vote transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1)`, postID).Scan(&exists); err != nil {
		return res, fmt.Errorf("failed to check post: %w", err)
	}
	if !exists {
		return res, ErrNotFound
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO votes (post_id, user_id, value) VALUES ($1, $2, $3)
		ON CONFLICT (post_id, user_id) DO UPDATE SET value = EXCLUDED.value`, postID, userID, value)
	if err != nil {
		return res, fmt.Errorf("failed to store vote: %w", err)
	}
	if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(value), 0) FROM votes WHERE post_id = $1`, postID).Scan(&res.Votes); err != nil {
		return res, fmt.Errorf("failed to total votes: %w", err)
	}
	return res, tx.Commit(ctx)
}

// ListComments returns a post's comments, oldest first.
func ListComments(ctx context.Context, pool *pgxpool.Pool, postID string) ([]models.Comment, error) {
	rows, err := pool.Query(ctx, `
		SELECT c.id, c.post_id, u.display_name, c.content, c.created_at
		FROM comments c JOIN users u ON c.author_id = u.id
		WHERE c.post_id = $1 ORDER BY c.created_at`, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Comment, error) {
		var c models.Comment
		err := row.Scan(&c.ID, &c.PostID, &c.Author, &c.Content, &c.CreatedAt)
		return c, err
	})
}

// CreateComment adds a comment to an existing post.
func CreateComment(ctx context.Context, pool *pgxpool.Pool, authorID, postID, content string) (models.Comment, error) {
	c := models.Comment{ID: uuid.NewString(), PostID: postID, Content: content}
	err := pool.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO comments (id, post_id, author_id, content)
			SELECT $1, $2, $3, $4 WHERE EXISTS (SELECT 1 FROM posts WHERE id = $2)
			RETURNING created_at
		)
		SELECT ins.created_at, u.display_name FROM ins, users u WHERE u.id = $3`,
		c.ID, postID, authorID, content).Scan(&c.CreatedAt, &c.Author)
	if err != nil {
		return models.Comment{}, notFound(err, "create comment")
	}
	return c, nil
}

// InsertPastPaper stores upload metadata and the extracted text.
func InsertPastPaper(ctx context.Context, pool *pgxpool.Pool, p models.PastPaper, uploaderID, storagePath, text string) (models.PastPaper, error) {
	p.ID = uuid.NewString()
	err := pool.QueryRow(ctx, `
		INSERT INTO past_papers (id, uploader_id, title, subject, year, file_name, content_type, size_bytes, storage_path, extracted_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		p.ID, uploaderID, p.Title, p.Subject, p.Year, p.FileName, p.ContentType, p.SizeBytes, storagePath, text).Scan(&p.CreatedAt)
	if err != nil {
		return models.PastPaper{}, fmt.Errorf("failed to insert past paper: %w", err)
	}
	return p, nil
}

const pastPaperSelect = `
	SELECT pp.id, pp.title, pp.subject, pp.year, pp.file_name, pp.content_type, pp.size_bytes,
		LEFT(pp.extracted_text, 280), u.display_name, pp.created_at
	FROM past_papers pp JOIN users u ON pp.uploader_id = u.id`

func scanPastPaper(row pgx.Row) (models.PastPaper, error) {
	var p models.PastPaper
	err := row.Scan(&p.ID, &p.Title, &p.Subject, &p.Year, &p.FileName, &p.ContentType, &p.SizeBytes,
		&p.Excerpt, &p.Uploader, &p.CreatedAt)
	return p, err
}

// ListPastPapers lists shared papers, optionally for one subject, newest first.
func ListPastPapers(ctx context.Context, pool *pgxpool.Pool, subject string) ([]models.PastPaper, error) {
	rows, err := pool.Query(ctx, pastPaperSelect+`
		WHERE $1 = '' OR pp.subject = $1
		ORDER BY pp.year DESC, pp.created_at DESC`, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to query past papers: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PastPaper, error) {
		return scanPastPaper(row)
	})
}

// GetPastPaper returns a paper and the path of its stored file.
func GetPastPaper(ctx context.Context, pool *pgxpool.Pool, id string) (models.PastPaper, string, error) {
	p, err := scanPastPaper(pool.QueryRow(ctx, pastPaperSelect+` WHERE pp.id = $1`, id))
	if err != nil {
		return models.PastPaper{}, "", notFound(err, "get past paper")
	}
	var path string
	if err := pool.QueryRow(ctx, `SELECT storage_path FROM past_papers WHERE id = $1`, id).Scan(&path); err != nil {
		return models.PastPaper{}, "", notFound(err, "get past paper path")
	}
	return p, path, nil
}

// ListGroups returns all groups with member counts and the viewer's membership.
func ListGroups(ctx context.Context, pool *pgxpool.Pool, viewerID string) ([]models.StudyGroup, error) {
	rows, err := pool.Query(ctx, `
		SELECT g.id, g.name, g.subject, g.description,
			(SELECT COUNT(*) FROM group_members m WHERE m.group_id = g.id),
			EXISTS (SELECT 1 FROM group_members m WHERE m.group_id = g.id AND m.user_id = $1),
			g.created_at
		FROM study_groups g ORDER BY g.name`, viewerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.StudyGroup, error) {
		var g models.StudyGroup
		err := row.Scan(&g.ID, &g.Name, &g.Subject, &g.Description, &g.MemberCount, &g.IsMember, &g.CreatedAt)
		return g, err
	})
}

// CreateGroup inserts a group and makes the owner its first member.
func CreateGroup(ctx context.Context, pool *pgxpool.Pool, ownerID string, req models.GroupCreateRequest) (models.StudyGroup, error) {
	g := models.StudyGroup{ID: uuid.NewString(), Name: req.Name, Subject: req.Subject, Description: req.Description, MemberCount: 1, IsMember: true}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return g, fmt.Errorf("failed to begin group transaction: %w", err)
	}
	defer tx.Rollback(ctx)
	err = tx.QueryRow(ctx, `
		INSERT INTO study_groups (id, name, subject, description, owner_id) VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`, g.ID, g.Name, g.Subject, g.Description, ownerID).Scan(&g.CreatedAt)
	if err != nil {
		return g, fmt.Errorf("failed to create group: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`, g.ID, ownerID); err != nil {
		return g, fmt.Errorf("failed to add group owner: %w", err)
	}
	return g, tx.Commit(ctx)
}

// JoinGroup adds a member; joining twice is ErrConflict.
func JoinGroup(ctx context.Context, pool *pgxpool.Pool, userID, groupID string) error {
	tag, err := pool.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id)
		SELECT $1, $2 WHERE EXISTS (SELECT 1 FROM study_groups WHERE id = $1)`, groupID, userID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to join group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LeaveGroup removes a member.
func LeaveGroup(ctx context.Context, pool *pgxpool.Pool, userID, groupID string) error {
	tag, err := pool.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return fmt.Errorf("failed to leave group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IsGroupMember reports whether userID belongs to the group.
func IsGroupMember(ctx context.Context, pool *pgxpool.Pool, userID, groupID string) (bool, error) {
	var ok bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`, groupID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return ok, nil
}

// ListGroupMessages returns the latest messages of a group in chronological order.
func ListGroupMessages(ctx context.Context, pool *pgxpool.Pool, groupID string, limit int) ([]models.GroupMessage, error) {
	rows, err := pool.Query(ctx, `
		SELECT * FROM (
			SELECT m.id, m.group_id, u.display_name, m.content, m.created_at
			FROM group_messages m JOIN users u ON m.author_id = u.id
			WHERE m.group_id = $1
			ORDER BY m.created_at DESC LIMIT $2
		) recent ORDER BY created_at`, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query group messages: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.GroupMessage, error) {
		var m models.GroupMessage
		err := row.Scan(&m.ID, &m.GroupID, &m.Author, &m.Content, &m.CreatedAt)
		return m, err
	})
}

// CreateGroupMessage posts a message to a group.
func CreateGroupMessage(ctx context.Context, pool *pgxpool.Pool, authorID, groupID, content string) (models.GroupMessage, error) {
	m := models.GroupMessage{ID: uuid.NewString(), GroupID: groupID, Content: content}
	err := pool.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO group_messages (id, group_id, author_id, content) VALUES ($1, $2, $3, $4)
			RETURNING created_at
		)
		SELECT ins.created_at, u.display_name FROM ins, users u WHERE u.id = $3`,
		m.ID, groupID, authorID, content).Scan(&m.CreatedAt, &m.Author)
	if err != nil {
		return models.GroupMessage{}, fmt.Errorf("failed to create group message: %w", err)
	}
	return m, nil
}

// TutorHistory returns the last `limit` turns of a user's tutor conversation, oldest first.
func TutorHistory(ctx context.Context, pool *pgxpool.Pool, userID string, limit int) ([]models.TutorMessage, error) {
	rows, err := pool.Query(ctx, `
		SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at FROM tutor_messages
			WHERE user_id = $1 ORDER BY id DESC LIMIT $2
		) recent ORDER BY id`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query tutor history: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.TutorMessage, error) {
		var m models.TutorMessage
		err := row.Scan(&m.Role, &m.Content, &m.CreatedAt)
		return m, err
	})
}

// AppendTutorMessages stores conversation turns in order.
func AppendTutorMessages(ctx context.Context, pool *pgxpool.Pool, userID string, msgs ...models.TutorMessage) error {
	batch := &pgx.Batch{}
	for _, m := range msgs {
		batch.Queue(`INSERT INTO tutor_messages (user_id, role, content) VALUES ($1, $2, $3)`, userID, m.Role, m.Content)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to store tutor messages: %w", err)
	}
	return nil
}
