package repo

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"sidedock/internal/core"
	"sidedock/internal/downloader"
	"sidedock/internal/downloader/archive"
	"sidedock/internal/downloader/httpcache"
	"sidedock/internal/downloader/rclone"
)

// VRPPublicRepo is the compressed+encrypted layout: the app list and
// per-release archives live behind a generated HTTP remote whose base URL
// and shared password are themselves fetched from a small public JSON
// descriptor, cached once per process.
type VRPPublicRepo struct {
	PublicURL    string
	MetaArchive  string
	ListFilename string
	RemoteName   string

	archiveClient archive.Client

	once     sync.Once
	initErr  error
	baseURI  string
	password string
}

// NewVRPPublicRepo constructs a repo bound to publicURL, the small JSON
// descriptor that carries the remote's base URI and shared password.
func NewVRPPublicRepo(publicURL string) *VRPPublicRepo {
	return &VRPPublicRepo{
		PublicURL:    publicURL,
		MetaArchive:  "meta.7z",
		ListFilename: "VRP-GameList.txt",
		RemoteName:   "VRP-Public",
	}
}

func (r *VRPPublicRepo) ID() string { return "vrp-public" }

func (r *VRPPublicRepo) GeneratedConfigFilename() (string, bool) { return "rclone.vrp.conf", true }

// hashForRelease reproduces the md5(fullName + "\n") hash scheme that
// determines a release's remote directory name.
func hashForRelease(fullName string) string {
	sum := md5.Sum([]byte(fullName + "\n"))
	return fmt.Sprintf("%x", sum)
}

func (r *VRPPublicRepo) sourceFor(fullName string) string {
	return hashForRelease(fullName) + "/"
}

func (r *VRPPublicRepo) SourceForDownload(fullName string) string { return r.sourceFor(fullName) }

type publicDescriptor struct {
	BaseURI  string `json:"baseUri"`
	Password string `json:"password"`
}

// ensureInitialized lazily fetches and decodes the public descriptor on
// first use, then reuses the result for the repo's remaining lifetime —
// the same once-per-process memoization as a sync.OnceValue, spelled out
// with sync.Once so a failed first attempt can be distinguished from a
// not-yet-attempted one.
func (r *VRPPublicRepo) ensureInitialized(httpClient *http.Client, cacheDir string) error {
	r.once.Do(func() {
		path := filepath.Join(cacheDir, "vrp-public.json")
		if _, err := httpcache.UpdateFileCached(httpClient, r.PublicURL, path, cacheDir, nil); err != nil {
			r.initErr = core.Wrap(core.KindNetwork, "download public VRP descriptor", err)
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			r.initErr = core.Wrap(core.KindEnvironment, "read public VRP descriptor", err)
			return
		}
		var desc publicDescriptor
		if err := json.Unmarshal(data, &desc); err != nil {
			r.initErr = core.Wrap(core.KindProtocol, "parse public VRP descriptor", err)
			return
		}
		if desc.BaseURI == "" {
			r.initErr = core.Wrap(core.KindProtocol, "parse public VRP descriptor",
				fmt.Errorf("baseUri missing"))
			return
		}
		passwordBytes, err := base64.StdEncoding.DecodeString(desc.Password)
		if err != nil {
			r.initErr = core.Wrap(core.KindProtocol, "decode public VRP password", err)
			return
		}
		r.baseURI = desc.BaseURI
		r.password = string(passwordBytes)
	})
	return r.initErr
}

// writeHTTPRemoteConfig writes a minimal rclone config binding RemoteName to
// an HTTP remote at baseURI.
func (r *VRPPublicRepo) writeHTTPRemoteConfig(dir, baseURI string) (string, error) {
	filename, _ := r.GeneratedConfigFilename()
	path := filepath.Join(dir, filename)
	content := fmt.Sprintf("[%s]\ntype = http\nurl = %s\n\n", r.RemoteName, baseURI)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", core.Wrap(core.KindEnvironment, "write rclone http remote config", err)
	}
	return path, nil
}

func (r *VRPPublicRepo) BuildStorage(ctx context.Context, args BuildStorageArgs) (BuildStorageResult, error) {
	if err := r.ensureInitialized(args.HTTPClient, args.CacheDir); err != nil {
		return BuildStorageResult{}, err
	}
	confPath, err := r.writeHTTPRemoteConfig(args.CacheDir, r.baseURI)
	if err != nil {
		return BuildStorageResult{}, err
	}
	storage := &rclone.Storage{
		Client: &rclone.Client{
			RclonePath:     args.RclonePath,
			ConfigPath:     confPath,
			BandwidthLimit: args.BandwidthLimit,
		},
		Remote:  r.RemoteName,
		RootDir: "",
	}
	return BuildStorageResult{Storage: storage, PersistRemote: r.RemoteName}, nil
}

func (r *VRPPublicRepo) LoadAppList(ctx context.Context, storage *rclone.Storage, listPath, cacheDir string, httpClient *http.Client) ([]downloader.CloudApp, error) {
	metaPath, err := storage.DownloadFile(ctx, r.MetaArchive, cacheDir)
	if err != nil {
		return nil, core.Wrap(core.KindNetwork, "download meta archive", err)
	}

	if err := r.ensureInitialized(httpClient, cacheDir); err != nil {
		return nil, err
	}

	if err := r.archiveClient.Decompress(ctx, metaPath, cacheDir, r.password, []string{r.ListFilename}); err != nil {
		return nil, core.Wrap(core.KindEnvironment, "extract meta archive", err)
	}
	_ = os.Remove(metaPath)

	listPathLocal := filepath.Join(cacheDir, r.ListFilename)
	f, err := os.Open(listPathLocal)
	if err != nil {
		return nil, core.Wrap(core.KindEnvironment, "open extracted game list", err)
	}
	defer f.Close()

	return parseCatalogCSV(f)
}

// PostDownload extracts the release's multipart, password-protected 7z
// archive into dstDir, flattens a same-named nested directory the archive
// may have produced, and removes the downloaded archive parts.
func (r *VRPPublicRepo) PostDownload(ctx context.Context, fullName, dstDir, cacheDir string, httpClient *http.Client, onStatus func(string)) error {
	if err := r.ensureInitialized(httpClient, cacheDir); err != nil {
		return nil // a failed lazy-init here is swallowed, not fatal
	}

	hash := hashForRelease(fullName)
	firstPart := filepath.Join(dstDir, hash+".7z.001")
	if _, err := os.Stat(firstPart); err != nil {
		return nil
	}

	emit := func(msg string) {
		if onStatus != nil {
			onStatus(msg)
		}
	}

	emit("Extracting files...")
	if err := r.archiveClient.Decompress(ctx, firstPart, dstDir, r.password, nil); err != nil {
		return core.Wrap(core.KindEnvironment, "extract release archive", err)
	}

	emit("Finalizing files...")
	nested := filepath.Join(dstDir, fullName)
	if info, err := os.Stat(nested); err == nil && info.IsDir() && nested != dstDir {
		entries, err := os.ReadDir(nested)
		if err == nil {
			for _, e := range entries {
				from := filepath.Join(nested, e.Name())
				to := filepath.Join(dstDir, e.Name())
				_ = os.Rename(from, to)
			}
		}
		_ = os.RemoveAll(nested)
	}

	emit("Cleaning up...")
	entries, err := os.ReadDir(dstDir)
	if err == nil {
		prefix := hash + ".7z."
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), prefix) {
				_ = os.Remove(filepath.Join(dstDir, e.Name()))
			}
		}
	}
	return nil
}
