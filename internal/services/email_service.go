package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/justsurfingit/applicant-timeline/internal/models"
	"github.com/justsurfingit/applicant-timeline/internal/portal"
	"github.com/justsurfingit/applicant-timeline/internal/session"
	"github.com/justsurfingit/applicant-timeline/internal/timeline"
)

const (
	syncTimeout    = 2 * time.Minute
	fullSyncLimit  = 50
	defaultMailbox = "me"

	// a failing email is retried on this many sync cycles before it is dropped
	maxEmailAttempts = 5
)

// StageClassifier reads recruiter emails. LLMService is the production one.
type StageClassifier interface {
	ClassifyStageEmail(ctx context.Context, applicant string, current timeline.Stage, subject, body string) (StageDecision, error)
	PickJob(ctx context.Context, titles []string, subject, body string) int
}

// SessionSource exposes the user the watcher acts on behalf of.
type SessionSource interface {
	Current() (session.User, bool)
}

// EmailService watches the recruiter mailbox and turns stage-changing
// emails into stage change submissions.
type EmailService struct {
	DB         *gorm.DB
	Classifier StageClassifier
	Matcher    *MatcherService
	Gmail      *gmail.Service
	Stages     *StageService
	Timelines  *TimelineService
	Sessions   SessionSource
	Query      string
	Interval   time.Duration
	Log        logrus.FieldLogger
}

func NewEmailService(db *gorm.DB, classifier StageClassifier, gmailSvc *gmail.Service, matcher *MatcherService, stages *StageService, timelines *TimelineService, sessions SessionSource, query string, interval time.Duration, log logrus.FieldLogger) *EmailService {
	return &EmailService{
		DB:         db,
		Classifier: classifier,
		Gmail:      gmailSvc,
		Matcher:    matcher,
		Stages:     stages,
		Timelines:  timelines,
		Sessions:   sessions,
		Query:      query,
		Interval:   interval,
		Log:        log,
	}
}

// StartWatcher polls the mailbox until ctx is cancelled.
func (s *EmailService) StartWatcher(ctx context.Context) {
	if s.Gmail == nil {
		s.Log.Warn("⚠️ mail watcher disabled (no gmail client)")
		return
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// run immediately on startup
		s.SyncEmails(ctx)
		for {
			select {
			case <-ctx.Done():
				s.Log.Info("mail watcher stopped")
				return
			case <-ticker.C:
				s.SyncEmails(ctx)
			}
		}
	}()
}

// SyncEmails runs one sync cycle.
func (s *EmailService) SyncEmails(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, syncTimeout)
	defer cancel()

	// 1. The watcher acts as the logged-in recruiter
	user, ok := s.Sessions.Current()
	if !ok || !user.Role.CanChangeStage() {
		s.Log.Debug("mail watcher idle: no recruiter session")
		return
	}

	s.Log.Info("📧 mail watcher: starting sync cycle")

	// 2. Mailbox bookmark
	var state models.MailboxState
	if err := s.DB.WithContext(ctx).Where(models.MailboxState{Email: defaultMailbox}).FirstOrCreate(&state).Error; err != nil {
		s.Log.WithError(err).Error("❌ load mailbox state")
		return
	}

	var messages []*gmail.Message
	var newHistoryID uint64
	var err error

	// 3. Bootstrap (full) or incremental
	if state.LastHistoryID == 0 {
		s.Log.Info("🆕 first run, full bootstrap sync")
		messages, newHistoryID, err = s.performFullSync(ctx)
	} else {
		messages, newHistoryID, err = s.performIncrementalSync(ctx, state.LastHistoryID)
		if err != nil && isHistoryExpiredError(err) {
			s.Log.Warn("⚠️ history id expired, falling back to full sync")
			messages, newHistoryID, err = s.performFullSync(ctx)
		}
	}
	if err != nil {
		s.Log.WithError(err).Error("❌ sync failed")
		return
	}

	if len(messages) > 0 {
		// 4. Applicant lists once per cycle; every match points into them
		jobs, err := s.Timelines.Applicants(ctx, user.Role)
		if err != nil {
			s.Log.WithError(err).Error("❌ could not load applicant lists")
			return
		}

		s.Log.Infof("📥 processing %d emails", len(messages))
		if pending := s.processMessages(ctx, user, jobs, messages, gormLedger{db: s.DB}); pending {
			// the next incremental sync replays this window; finished mails are deduped
			s.Log.Warn("⚠️ some emails failed, bookmark kept for retry")
			return
		}
	} else {
		s.Log.Info("✅ no new relevant emails")
	}

	// 5. Save the bookmark, even for an empty window
	if newHistoryID > state.LastHistoryID {
		err := s.DB.WithContext(ctx).Model(&models.MailboxState{}).Where("id = ?", state.ID).Update("last_history_id", newHistoryID).Error
		if err != nil {
			s.Log.WithError(err).Error("❌ save mailbox bookmark")
			return
		}
		s.Log.Debugf("🔖 history updated to %d", newHistoryID)
	}
}

// processMessages handles one window of mail. It reports whether any email
// failed in a way worth retrying.
func (s *EmailService) processMessages(ctx context.Context, user session.User, jobs []portal.JobApplicants, messages []*gmail.Message, ledger emailLedger) bool {
	pending := false
	for _, msg := range messages {
		done, err := ledger.IsDone(ctx, msg.Id)
		if err != nil {
			s.Log.WithError(err).Error("❌ dedup lookup failed")
			pending = true
			continue
		}
		if done {
			continue
		}

		if _, err := s.processSingleEmail(ctx, user, jobs, msg); err != nil {
			attempts, lerr := ledger.RecordFailure(ctx, msg.Id)
			if lerr != nil {
				s.Log.WithError(lerr).Error("❌ record email failure")
				pending = true
				continue
			}
			if attempts < maxEmailAttempts {
				pending = true
				continue
			}
			s.Log.WithError(err).WithField("message_id", msg.Id).Errorf("giving up on email after %d attempts", attempts)
		}

		if err := ledger.MarkDone(ctx, msg.Id); err != nil {
			s.Log.WithError(err).Error("❌ mark email processed")
			pending = true
		}
	}
	return pending
}

// performFullSync scans recent mail and anchors the bookmark at the current history id.
func (s *EmailService) performFullSync(ctx context.Context) ([]*gmail.Message, uint64, error) {
	var resp *gmail.ListMessagesResponse
	err := retry(ctx, s.Log, 3, time.Second, func() error {
		var e error
		resp, e = s.Gmail.Users.Messages.List(defaultMailbox).Q(s.Query).MaxResults(fullSyncLimit).Context(ctx).Do()
		return e
	})
	if err != nil {
		return nil, 0, err
	}

	profile, err := s.Gmail.Users.GetProfile(defaultMailbox).Context(ctx).Do()
	if err != nil {
		return nil, 0, err
	}
	return s.expandMessages(ctx, resp.Messages), profile.HistoryId, nil
}

// performIncrementalSync asks only for messages added since startID.
func (s *EmailService) performIncrementalSync(ctx context.Context, startID uint64) ([]*gmail.Message, uint64, error) {
	var resp *gmail.ListHistoryResponse
	err := retry(ctx, s.Log, 3, time.Second, func() error {
		var e error
		resp, e = s.Gmail.Users.History.List(defaultMailbox).StartHistoryId(startID).HistoryTypes("messageAdded").Context(ctx).Do()
		return e
	})
	if err != nil {
		return nil, 0, err
	}

	var headers []*gmail.Message
	for _, h := range resp.History {
		for _, added := range h.MessagesAdded {
			if added.Message != nil {
				headers = append(headers, added.Message)
			}
		}
	}
	return s.expandMessages(ctx, headers), resp.HistoryId, nil
}

func (s *EmailService) expandMessages(ctx context.Context, headers []*gmail.Message) []*gmail.Message {
	var full []*gmail.Message
	for _, h := range headers {
		_ = retry(ctx, s.Log, 2, 500*time.Millisecond, func() error {
			msg, err := s.Gmail.Users.Messages.Get(defaultMailbox, h.Id).Context(ctx).Do()
			if err == nil {
				full = append(full, msg)
			}
			return err
		})
	}
	return full
}

// processSingleEmail matches the email to an applicant, classifies it, and
// submits the implied stage change. It reports whether a change was accepted.
// Deliberate skips return no error; an error means the email is worth retrying.
func (s *EmailService) processSingleEmail(ctx context.Context, user session.User, jobs []portal.JobApplicants, msg *gmail.Message) (bool, error) {
	headers := parseHeaders(msg)
	subject := headers["Subject"]
	sender := headers["From"]

	log := s.Log.WithFields(logrus.Fields{"email": shorten(subject, 20), "message_id": msg.Id})
	log.Debugf("📥 start processing from %s", sender)

	body := getEmailBody(msg)

	// STEP 1: matching
	matches := s.Matcher.FindApplicants(jobs, subject, sender)
	if len(matches) == 0 {
		log.Debug("skipped: no applicant matches sender or subject")
		return false, nil
	}

	// STEP 2: pick the job
	target := matches[0]
	if len(matches) > 1 {
		titles := make([]string, 0, len(matches))
		for _, m := range matches {
			titles = append(titles, m.List.Title)
		}
		log.Infof("⚠️ ambiguous: %d applications %v, asking classifier", len(matches), titles)
		idx := s.Classifier.PickJob(ctx, titles, subject, body)
		if idx < 0 || idx >= len(matches) {
			log.Info("skipped: could not tell which job the email is about")
			return false, nil
		}
		target = matches[idx]
	}
	applicant := *target.Applicant()
	log = log.WithFields(logrus.Fields{"job_id": target.List.JobID, "applicant_id": applicant.ID})

	// STEP 3: classify
	decision, err := s.Classifier.ClassifyStageEmail(ctx, applicant.Name, applicant.Current, subject, body)
	if err != nil {
		log.WithError(err).Warn("classifier error")
		return false, fmt.Errorf("classify email: %w", err)
	}
	if !decision.Change {
		log.Debug("⏹️ no stage change in email")
		return false, nil
	}
	if decision.Stage == applicant.Current {
		log.Debugf("⏹️ applicant already %s", decision.Stage)
		return false, nil
	}

	// STEP 4: submit
	log.Infof("🧠 %s -> %s", applicant.Current, decision.Stage)
	_, err = s.Stages.Submit(ctx, StageChangeRequest{
		Role:      user.Role,
		ActorID:   user.ID,
		JobID:     target.List.JobID,
		Applicant: applicant,
		Stage:     decision.Stage,
		Remarks:   decision.Summary,
		Source:    SourceEmail,
		List:      target.List,
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrValidation):
		log.WithError(err).Warn("skipped: stage change from email is invalid")
		return false, nil
	default:
		log.WithError(err).Warn("❌ stage change from email failed")
		return false, err
	}
}

// emailLedger remembers which emails are finished and how often the rest failed.
type emailLedger interface {
	IsDone(ctx context.Context, id string) (bool, error)
	MarkDone(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string) (attempts int, err error)
}

type gormLedger struct {
	db *gorm.DB
}

func (l gormLedger) IsDone(ctx context.Context, id string) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&models.ProcessedEmail{}).Where("id = ? AND done = ?", id, true).Count(&count).Error
	return count > 0, err
}

func (l gormLedger) MarkDone(ctx context.Context, id string) error {
	return l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{"done": true}),
	}).Create(&models.ProcessedEmail{ID: id, Done: true}).Error
}

func (l gormLedger) RecordFailure(ctx context.Context, id string) (int, error) {
	rec := models.ProcessedEmail{ID: id}
	if err := l.db.WithContext(ctx).Where(models.ProcessedEmail{ID: id}).FirstOrCreate(&rec).Error; err != nil {
		return 0, err
	}
	rec.Attempts++
	if err := l.db.WithContext(ctx).Model(&rec).Update("attempts", rec.Attempts).Error; err != nil {
		return 0, err
	}
	return rec.Attempts, nil
}

// shorten cuts s to at most n runes.
func shorten(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// retry runs f with exponential backoff. A 404 fails fast so the caller can
// fall back to a full sync.
func retry(ctx context.Context, log logrus.FieldLogger, attempts int, sleep time.Duration, f func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = f(); err == nil {
			return nil
		}
		if isHistoryExpiredError(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		log.WithError(err).Warnf("⚠️ gmail api error, retrying in %v", sleep)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		sleep *= 2
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, err)
}

func isHistoryExpiredError(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code == http.StatusNotFound
	}
	return false
}

func parseHeaders(msg *gmail.Message) map[string]string {
	res := make(map[string]string)
	if msg.Payload == nil {
		return res
	}
	for _, h := range msg.Payload.Headers {
		res[h.Name] = h.Value
	}
	return res
}

// getEmailBody prefers text/plain and falls back to text/html, flattened to text.
func getEmailBody(msg *gmail.Message) string {
	if msg.Payload == nil {
		return ""
	}
	if msg.Payload.Body != nil && msg.Payload.Body.Data != "" {
		text := decodeBody(msg.Payload.Body.Data)
		if msg.Payload.MimeType == "text/html" {
			return htmlToText(text)
		}
		return text
	}
	parts := flattenParts(msg.Payload.Parts)
	for _, part := range parts {
		if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
			return decodeBody(part.Body.Data)
		}
	}
	for _, part := range parts {
		if part.MimeType == "text/html" && part.Body != nil && part.Body.Data != "" {
			return htmlToText(decodeBody(part.Body.Data))
		}
	}
	return ""
}

// flattenParts walks nested multipart/* containers depth first.
func flattenParts(parts []*gmail.MessagePart) []*gmail.MessagePart {
	var out []*gmail.MessagePart
	for _, part := range parts {
		out = append(out, part)
		out = append(out, flattenParts(part.Parts)...)
	}
	return out
}

func decodeBody(data string) string {
	d, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		d, _ = base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	}
	return string(d)
}

func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style, head").Remove()
	var words []string
	collectText(doc.Selection, &words)
	return strings.Join(words, " ")
}

// collectText gathers text nodes in document order so block elements do not
// run together.
func collectText(sel *goquery.Selection, words *[]string) {
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		if goquery.NodeName(child) == "#text" {
			*words = append(*words, strings.Fields(child.Text())...)
			return
		}
		collectText(child, words)
	})
}
