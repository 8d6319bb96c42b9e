package mailsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"

	"github.com/HimanshuParihar99/Inboxly/internal/imap"
	"github.com/HimanshuParihar99/Inboxly/pkg/types"
)

// ErrNoSource is returned when a message is missing its raw source bytes,
// which are required for a transfer. It fails that message only, never the
// whole folder.
var ErrNoSource = errors.New("message has no raw source")

// DefaultDelimiter is used when a server reports no hierarchy delimiter.
const DefaultDelimiter = "/"

// Synchronizer reconciles folder hierarchies between two servers and copies
// messages idempotently. It is stateless; sessions are borrowed per call.
type Synchronizer struct {
	logger *logrus.Logger
}

// NewSynchronizer creates a folder synchronizer.
func NewSynchronizer(logger *logrus.Logger) *Synchronizer {
	return &Synchronizer{logger: logger}
}

var sanitizer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	"*", "_",
	"?", "_",
	"|", "_",
	`"`, "'",
	"<", "(",
	">", ")",
)

// Sanitize substitutes characters that are unsafe across IMAP servers in a
// folder name. Pure and idempotent.
func Sanitize(name string) string {
	return sanitizer.Replace(name)
}

// ListHierarchy lists the server's folder tree, recursively parsed from the
// flat LIST response. A missing delimiter on a node falls back to "/".
func (s *Synchronizer) ListHierarchy(session imap.Session) ([]*types.Folder, error) {
	infos, err := session.ListFolders()
	if err != nil {
		return nil, fmt.Errorf("failed to list folder hierarchy: %w", err)
	}
	return buildHierarchy(infos), nil
}

// buildHierarchy turns a flat folder listing into a tree. Intermediate nodes
// missing from the listing are synthesized so every child has a parent.
func buildHierarchy(infos []imap.FolderInfo) []*types.Folder {
	var roots []*types.Folder
	index := make(map[string]*types.Folder)

	for _, info := range infos {
		delim := info.Delimiter
		if delim == "" {
			delim = DefaultDelimiter
		}

		var parent *types.Folder
		path := ""
		for _, segment := range strings.Split(info.Name, delim) {
			if segment == "" {
				continue
			}
			if path == "" {
				path = segment
			} else {
				path = path + delim + segment
			}

			node, ok := index[path]
			if !ok {
				node = &types.Folder{
					Name:      segment,
					Path:      path,
					Delimiter: delim,
				}
				index[path] = node
				if parent == nil {
					roots = append(roots, node)
				} else {
					parent.Children = append(parent.Children, node)
				}
			}
			parent = node
		}

		if node, ok := index[info.Name]; ok {
			node.Attributes = append([]string(nil), info.Attributes...)
		}
	}

	return roots
}

// FolderPlan is one source folder flattened for processing: the raw path for
// protocol calls against the source, and the sanitized path segments used to
// address the destination.
type FolderPlan struct {
	Folder     *types.Folder
	SourcePath string
	Segments   []string
}

// DestPath joins the plan's sanitized segments with the destination's
// delimiter.
func (p FolderPlan) DestPath(delimiter string) string {
	return strings.Join(p.Segments, delimiter)
}

// Plan flattens a hierarchy pre-order, preserving the order the server
// reported the folders in.
func (s *Synchronizer) Plan(folders []*types.Folder) []FolderPlan {
	var plans []FolderPlan
	var walk func(f *types.Folder, prefix []string)
	walk = func(f *types.Folder, prefix []string) {
		segments := make([]string, 0, len(prefix)+1)
		segments = append(segments, prefix...)
		segments = append(segments, Sanitize(f.Name))
		plans = append(plans, FolderPlan{
			Folder:     f,
			SourcePath: f.Path,
			Segments:   segments,
		})
		for _, child := range f.Children {
			walk(child, segments)
		}
	}
	for _, f := range folders {
		walk(f, nil)
	}
	return plans
}

// DestinationDelimiter returns the delimiter reported by the destination
// hierarchy, or "/" when it reported none.
func DestinationDelimiter(folders []*types.Folder) string {
	for _, f := range folders {
		if f.Delimiter != "" {
			return f.Delimiter
		}
	}
	return DefaultDelimiter
}

// Reconcile creates the source folders missing from the destination, parents
// before children. A single folder's creation failure is logged and skipped.
// Returns the destination paths it created, in creation order. Running it
// again over identical hierarchies creates nothing.
func (s *Synchronizer) Reconcile(ctx context.Context, src, dst []*types.Folder, dstSession imap.Session) ([]string, error) {
	existing := make(map[string]bool)
	for _, plan := range s.Plan(dst) {
		existing[strings.Join(plan.Segments, DefaultDelimiter)] = true
	}

	var missing []FolderPlan
	for _, plan := range s.Plan(src) {
		if !existing[strings.Join(plan.Segments, DefaultDelimiter)] {
			missing = append(missing, plan)
		}
	}

	// Ascending depth so parents exist before their children.
	sort.SliceStable(missing, func(i, j int) bool {
		return len(missing[i].Segments) < len(missing[j].Segments)
	})

	delim := DestinationDelimiter(dst)
	var created []string
	for _, plan := range missing {
		if ctx.Err() != nil {
			return created, ctx.Err()
		}
		path := plan.DestPath(delim)
		if err := dstSession.CreateFolder(path); err != nil {
			s.logger.WithError(err).WithField("folder", path).Warn("Failed to create folder, skipping")
			continue
		}
		s.logger.WithField("folder", path).Info("Created folder")
		created = append(created, path)
	}

	return created, nil
}

// TransferMessage appends a message to a destination folder unless an
// equivalent message is already there. Equivalence is raw header-block
// equality against the destination's header fetches; that misses duplicates
// with reordered or re-wrapped headers and can match distinct messages whose
// headers happen to be identical, so treat it as an approximate key.
//
// Flags are carried over 1:1 except \Recent, which only the server assigns.
// The original declared date is preserved.
func (s *Synchronizer) TransferMessage(dstSession imap.Session, folderPath string, msg *types.Message) error {
	if len(msg.Source) == 0 {
		return fmt.Errorf("%w (uid %d)", ErrNoSource, msg.UID)
	}

	candidate := normalizeHeaderBlock(string(msg.RawHeaderBlock()))
	blocks, err := dstSession.FetchHeaderBlocks(folderPath)
	if err != nil {
		return fmt.Errorf("failed to fetch destination headers: %w", err)
	}
	for _, block := range blocks {
		if normalizeHeaderBlock(block) == candidate {
			s.logger.WithFields(logrus.Fields{
				"folder": folderPath,
				"uid":    msg.UID,
			}).Debug("Skipping duplicate message")
			return nil
		}
	}

	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}

	if err := dstSession.Append(folderPath, translateFlags(msg.Flags), date, msg.Source); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// translateFlags copies message flags, dropping \Recent.
func translateFlags(flags []string) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		if strings.EqualFold(f, goimap.RecentFlag) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// normalizeHeaderBlock strips trailing line endings so header blocks fetched
// from different servers compare equal.
func normalizeHeaderBlock(block string) string {
	return strings.TrimRight(block, "\r\n \t")
}
