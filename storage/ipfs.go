package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/world-registry/interfaces"
)

// IPFSRoot is the MFS directory holding stored definitions.
const IPFSRoot = "/world-registry"

// IPFSStore keeps definitions as files in the mutable file system of an IPFS node,
// at <root>/<target>/<protocol>/<version>.json.
//
// Uniqueness is emulated with a stat before each write.
type IPFSStore struct {
	shell       *shell.Shell
	host        string
	port        string
	root        string
	log         *slog.Logger
	locationURI string
	now         func() time.Time
}

// NewIPFSStore creates a store talking to the IPFS HTTP API at host:port.
func NewIPFSStore(host, port, root string, timeout time.Duration, log *slog.Logger) *IPFSStore {
	apiURL := fmt.Sprintf("%s:%s", host, port)
	if root == "" {
		root = IPFSRoot
	}

	sh := shell.NewShell(apiURL)
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}

	return &IPFSStore{
		shell:       sh,
		host:        host,
		port:        port,
		root:        path.Clean("/" + root),
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s", apiURL, root),
		now:         time.Now,
	}
}

func (b *IPFSStore) QueryProtocols(ctx context.Context, query interfaces.ProtocolsQuery) ([]interfaces.ProtocolEntry, error) {
	if err := validateQuery(query); err != nil {
		return nil, err
	}
	if !b.shell.IsUp() {
		return nil, fmt.Errorf("%w: ipfs node %s:%s is down", interfaces.ErrStoreUnavailable, b.host, b.port)
	}

	dir := b.protocolDir(query.Target, query.Filter.Protocol)

	var files []string
	if len(query.Filter.Versions) > 0 {
		for _, v := range query.Filter.Versions {
			files = append(files, path.Join(dir, v+".json"))
		}
	} else {
		listing, err := b.shell.FilesLs(ctx, dir)
		if err != nil {
			if isMFSNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: list %s: %v", interfaces.ErrStoreUnavailable, dir, err)
		}
		for _, f := range listing {
			if strings.HasSuffix(f.Name, ".json") {
				files = append(files, path.Join(dir, f.Name))
			}
		}
	}

	var out []interfaces.ProtocolEntry
	for _, file := range files {
		entry, found, err := b.readEntry(ctx, file)
		if err != nil {
			return nil, err
		}
		if found && entry.Target == query.Target && query.Filter.Matches(entry.Protocol, entry.Version) {
			out = append(out, entry)
		}
	}

	sortEntries(out)
	return out, nil
}

func (b *IPFSStore) RegisterProtocol(ctx context.Context, msg interfaces.ProtocolsConfigure) error {
	if err := validateConfigure(msg); err != nil {
		return err
	}
	if !b.shell.IsUp() {
		return fmt.Errorf("%w: ipfs node %s:%s is down", interfaces.ErrStoreUnavailable, b.host, b.port)
	}

	dir := b.protocolDir(msg.Target, msg.Definition.Protocol)
	file := path.Join(dir, msg.Version+".json")

	_, err := b.shell.FilesStat(ctx, file)
	if err == nil {
		return interfaces.ErrProtocolExists
	}
	if !isMFSNotExist(err) {
		return fmt.Errorf("%w: stat %s: %v", interfaces.ErrStoreUnavailable, file, err)
	}

	data, err := json.Marshal(newEntry(msg, b.now()))
	if err != nil {
		return fmt.Errorf("%w: encode entry: %v", interfaces.ErrDefinitionRejected, err)
	}

	if err := b.shell.FilesMkdir(ctx, dir, shell.FilesMkdir.Parents(true)); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", interfaces.ErrStoreUnavailable, dir, err)
	}
	err = b.shell.FilesWrite(ctx, file, bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", interfaces.ErrStoreUnavailable, file, err)
	}

	stat, err := b.shell.FilesStat(ctx, file)
	if err == nil {
		b.log.Debug("Stored protocol definition in IPFS",
			slog.String("path", file),
			slog.String("ipfsCID", stat.Hash))
	}
	return nil
}

func (b *IPFSStore) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

func (b *IPFSStore) LocationURI() string {
	return b.locationURI
}

func (b *IPFSStore) protocolDir(target, protocol string) string {
	return path.Join(b.root, segment(target), segment(protocol))
}

func (b *IPFSStore) readEntry(ctx context.Context, file string) (interfaces.ProtocolEntry, bool, error) {
	reader, err := b.shell.FilesRead(ctx, file)
	if err != nil {
		if isMFSNotExist(err) {
			return interfaces.ProtocolEntry{}, false, nil
		}
		return interfaces.ProtocolEntry{}, false, fmt.Errorf("%w: read %s: %v", interfaces.ErrStoreUnavailable, file, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return interfaces.ProtocolEntry{}, false, fmt.Errorf("%w: read %s: %v", interfaces.ErrStoreUnavailable, file, err)
	}

	var entry interfaces.ProtocolEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return interfaces.ProtocolEntry{}, false, fmt.Errorf("decode %s: %w", file, err)
	}
	return entry, true, nil
}

func isMFSNotExist(err error) bool {
	var shellErr *shell.Error
	if errors.As(err, &shellErr) && strings.Contains(shellErr.Message, "does not exist") {
		return true
	}
	return strings.Contains(err.Error(), "file does not exist")
}
