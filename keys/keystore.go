package keys

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
)

var log = logging.Logger("sponsor/keys")

// DefaultKeystorePath is where the IOTA command line client keeps its keys.
const DefaultKeystorePath = "~/.iota/iota_config/iota.keystore"

// ErrKeyNotFound is returned when a keystore holds no key for the requested address.
var ErrKeyNotFound = xerrors.New("key not found")

// Keystore signs on behalf of the accounts it holds keys for.
type Keystore interface {
	Sign(addr types.Address, intent types.Intent, msg []byte) (Signature, error)
	Has(addr types.Address) bool
	List() []types.Address
}

// MemKeystore keeps keys in memory only.
type MemKeystore struct {
	mu   sync.RWMutex
	keys map[types.Address]*KeyPair
}

func NewMemKeystore(pairs ...*KeyPair) *MemKeystore {
	ks := &MemKeystore{keys: make(map[types.Address]*KeyPair, len(pairs))}
	for _, kp := range pairs {
		ks.keys[kp.Address()] = kp
	}
	return ks
}

func (ks *MemKeystore) Add(kp *KeyPair) types.Address {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	addr := kp.Address()
	ks.keys[addr] = kp
	return addr
}

func (ks *MemKeystore) Sign(addr types.Address, intent types.Intent, msg []byte) (Signature, error) {
	ks.mu.RLock()
	kp, ok := ks.keys[addr]
	ks.mu.RUnlock()
	if !ok {
		return Signature{}, xerrors.Errorf("%w: %s", ErrKeyNotFound, addr)
	}
	return kp.Sign(intent, msg), nil
}

func (ks *MemKeystore) Has(addr types.Address) bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	_, ok := ks.keys[addr]
	return ok
}

// List returns the held addresses in ascending order.
func (ks *MemKeystore) List() []types.Address {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	out := make([]types.Address, 0, len(ks.keys))
	for addr := range ks.keys {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i][:]) < string(out[j][:])
	})
	return out
}

// FileKeystore is a MemKeystore backed by a keystore file in the IOTA client format: a
// JSON array of base64 encoded flag || secret entries.
type FileKeystore struct {
	*MemKeystore
	path string
	// order keeps the file order so rewrites do not reshuffle entries
	order []types.Address
}

// OpenFileKeystore loads the keystore at path. A missing file yields an empty keystore
// that is created on the first Add.
func OpenFileKeystore(path string) (*FileKeystore, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, xerrors.Errorf("expand keystore path: %w", err)
	}
	ks := &FileKeystore{MemKeystore: NewMemKeystore(), path: expanded}

	data, err := os.ReadFile(expanded)
	if os.IsNotExist(err) {
		log.Infow("keystore does not exist yet", "path", expanded)
		return ks, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("read keystore: %w", err)
	}

	var entries []string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, xerrors.Errorf("parse keystore %s: %w", expanded, err)
	}
	for i, entry := range entries {
		kp, err := DecodeKeyPair(entry)
		if err != nil {
			return nil, xerrors.Errorf("keystore %s entry %d: %w", expanded, i, err)
		}
		addr := ks.MemKeystore.Add(kp)
		ks.order = append(ks.order, addr)
	}
	log.Debugw("loaded keystore", "path", expanded, "keys", len(entries))
	return ks, nil
}

func (ks *FileKeystore) Path() string {
	return ks.path
}

// Add stores kp and rewrites the keystore file.
func (ks *FileKeystore) Add(kp *KeyPair) (types.Address, error) {
	addr := kp.Address()
	if !ks.Has(addr) {
		ks.order = append(ks.order, addr)
	}
	ks.MemKeystore.Add(kp)
	if err := ks.save(); err != nil {
		return types.Address{}, err
	}
	return addr, nil
}

// Generate creates, stores and returns a new key pair.
func (ks *FileKeystore) Generate(scheme Scheme) (*KeyPair, error) {
	kp, err := GenerateKeyPair(scheme)
	if err != nil {
		return nil, err
	}
	if _, err := ks.Add(kp); err != nil {
		return nil, err
	}
	return kp, nil
}

func (ks *FileKeystore) save() error {
	ks.mu.RLock()
	entries := make([]string, 0, len(ks.order))
	for _, addr := range ks.order {
		entries = append(entries, EncodeKeyPair(ks.keys[addr]))
	}
	ks.mu.RUnlock()

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return xerrors.Errorf("marshal keystore: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(ks.path), 0o700); err != nil {
		return xerrors.Errorf("create keystore directory: %w", err)
	}
	tmp := ks.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return xerrors.Errorf("write keystore: %w", err)
	}
	if err := os.Rename(tmp, ks.path); err != nil {
		return xerrors.Errorf("replace keystore: %w", err)
	}
	return nil
}

// EncodeKeyPair renders kp as a keystore entry.
func EncodeKeyPair(kp *KeyPair) string {
	return base64.StdEncoding.EncodeToString(append([]byte{byte(kp.Scheme())}, kp.Secret()...))
}

// DecodeKeyPair parses a keystore entry.
func DecodeKeyPair(entry string) (*KeyPair, error) {
	raw, err := base64.StdEncoding.DecodeString(entry)
	if err != nil {
		return nil, xerrors.Errorf("decode key: %w", err)
	}
	if len(raw) != 1+secretLength {
		return nil, xerrors.Errorf("expected %d byte key, got %d", 1+secretLength, len(raw))
	}
	return NewKeyPair(Scheme(raw[0]), raw[1:])
}
