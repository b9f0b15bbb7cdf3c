package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/ZebulonRouseFrantzich/crio-get/internal/acquire"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/install"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/logger"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/platform"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/verify"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/version"
)

const (
	DefaultBucket     = "cri-o"
	DefaultStorageURL = "https://storage.googleapis.com"
)

// Setting keys.
const (
	keyToken          = "github_token"
	keyVerify         = "verify"
	keyMaxPages       = "max_pages"
	keyLogLevel       = "log_level"
	keyTrace          = "trace"
	keyStorageURL     = "storage_url"
	keyAPIURL         = "api_url"
	keyFulcioRoots    = "fulcio_roots"
	keyTrustedRoot    = "trusted_root"
	keyIdentityRegexp = "cert_identity_regexp"
	keyOIDCIssuer     = "cert_oidc_issuer"
)

var (
	errEmpty    = errors.New("must not be empty")
	errPositive = errors.New("must be a positive integer")
	errScheme   = errors.New("must be an http or https URL")
)

// Flags are the command-line inputs.
type Flags struct {
	Arch   string
	Tag    string
	Bucket string
}

// ArchDetector reports the host architecture.
type ArchDetector interface {
	DetectArch(ctx context.Context) (string, error)
}

// Config is the complete, validated configuration of one run.
type Config struct {
	Arch    string
	Version string // explicit version, empty to resolve
	Bucket  string

	StorageURL string
	APIURL     string
	Token      string
	MaxPages   int

	Verify         acquire.Mode
	FulcioRoots    string // PEM bundle, overrides TrustedRoot
	TrustedRoot    string // trusted_root.json, empty for the public Sigstore root
	IdentityRegexp string
	OIDCIssuer     string

	LogLevel zapcore.Level
	Trace    bool

	Paths install.Paths
}

// BaseURL returns the bucket URL below which all artifacts live.
func (c *Config) BaseURL() string {
	return strings.TrimRight(c.StorageURL, "/") + "/" + c.Bucket
}

// NewViper returns a viper instance bound to the crio-get environment.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault(keyVerify, string(acquire.ModeAuto))
	v.SetDefault(keyMaxPages, version.DefaultMaxPages)
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyTrace, false)
	v.SetDefault(keyStorageURL, DefaultStorageURL)
	v.SetDefault(keyAPIURL, version.DefaultAPIURL)
	v.SetDefault(keyIdentityRegexp, verify.DefaultIdentityRegexp)
	v.SetDefault(keyOIDCIssuer, verify.DefaultIssuer)

	bind := func(key, env string) {
		_ = v.BindEnv(key, env) //nolint:errcheck // Only fails without a key.
	}
	bind(keyToken, "GITHUB_TOKEN")
	bind(keyVerify, "CRIO_GET_VERIFY")
	bind(keyMaxPages, "CRIO_GET_MAX_PAGES")
	bind(keyLogLevel, "CRIO_GET_LOG_LEVEL")
	bind(keyTrace, "CRIO_GET_TRACE")
	bind(keyStorageURL, "CRIO_GET_STORAGE_URL")
	bind(keyAPIURL, "CRIO_GET_API_URL")
	bind(keyFulcioRoots, "CRIO_GET_FULCIO_ROOTS")
	bind(keyTrustedRoot, "CRIO_GET_TRUSTED_ROOT")
	bind(keyIdentityRegexp, "CRIO_GET_CERT_IDENTITY_REGEXP")
	bind(keyOIDCIssuer, "CRIO_GET_CERT_OIDC_ISSUER")

	for _, env := range pathVars {
		bind(strings.ToLower(env), env)
	}

	return v
}

// pathVars are the layout variables, in install.Paths field order.
var pathVars = []string{
	"DESTDIR", "PREFIX", "ETCDIR", "LIBEXECDIR", "LIBEXEC_CRIO_DIR", "BINDIR",
	"MANDIR", "OCIDIR", "BASHINSTALLDIR", "FISHINSTALLDIR", "ZSHINSTALLDIR",
	"OPT_CNI_BIN_DIR", "CNIDIR", "CONTAINERS_DIR", "CONTAINERS_REGISTRIES_CONFD_DIR",
	"SYSTEMDDIR", "CRIO_CONF_D",
}

// Load validates flags and settings and returns the run configuration.
// When flags.Arch is empty the host architecture is detected; an
// unsupported host is a *version.ResolutionError.
func Load(ctx context.Context, flags Flags, v *viper.Viper, detector ArchDetector) (*Config, error) {
	if v == nil {
		v = NewViper()
	}

	arch, err := resolveArch(ctx, flags.Arch, detector)
	if err != nil {
		return nil, err
	}

	bucket := strings.TrimSpace(flags.Bucket)
	if bucket == "" {
		bucket = DefaultBucket
	}
	if strings.ContainsAny(bucket, "/ \t") {
		return nil, &ArgumentError{Name: "bucket", Value: flags.Bucket, Err: errors.New("must be a bucket name, not a path")}
	}

	mode, err := acquire.ParseMode(v.GetString(keyVerify))
	if err != nil {
		return nil, &ArgumentError{Name: "CRIO_GET_VERIFY", Value: v.GetString(keyVerify), Err: err}
	}

	maxPages := v.GetInt(keyMaxPages)
	if maxPages <= 0 {
		return nil, &ArgumentError{Name: "CRIO_GET_MAX_PAGES", Value: v.GetString(keyMaxPages), Err: errPositive}
	}

	level, ok := logger.ParseLogLevel(v.GetString(keyLogLevel))
	if !ok {
		return nil, &ArgumentError{Name: "CRIO_GET_LOG_LEVEL", Value: v.GetString(keyLogLevel), Err: errors.New("want debug, info, warn or error")}
	}

	storageURL, err := httpURL("CRIO_GET_STORAGE_URL", v.GetString(keyStorageURL))
	if err != nil {
		return nil, err
	}
	apiURL, err := httpURL("CRIO_GET_API_URL", v.GetString(keyAPIURL))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Arch:           arch,
		Version:        strings.TrimSpace(flags.Tag),
		Bucket:         bucket,
		StorageURL:     storageURL,
		APIURL:         apiURL,
		Token:          strings.TrimSpace(v.GetString(keyToken)),
		MaxPages:       maxPages,
		Verify:         mode,
		FulcioRoots:    v.GetString(keyFulcioRoots),
		TrustedRoot:    v.GetString(keyTrustedRoot),
		IdentityRegexp: v.GetString(keyIdentityRegexp),
		OIDCIssuer:     v.GetString(keyOIDCIssuer),
		LogLevel:       level,
		Trace:          v.GetBool(keyTrace),
		Paths:          loadPaths(v),
	}

	return cfg, nil
}

func resolveArch(ctx context.Context, flagArch string, detector ArchDetector) (string, error) {
	if flagArch != "" {
		arch, err := platform.NormalizeArch(flagArch)
		if err != nil {
			return "", &ArgumentError{Name: "arch", Value: flagArch, Err: err}
		}
		return arch, nil
	}

	if detector == nil {
		detector = platform.NewDetector()
	}

	arch, err := detector.DetectArch(ctx)
	if err != nil {
		return "", &version.ResolutionError{Reason: "detect host architecture", Err: err}
	}
	return arch, nil
}

func httpURL(name, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ArgumentError{Name: name, Value: raw, Err: errEmpty}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", &ArgumentError{Name: name, Value: raw, Err: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", &ArgumentError{Name: name, Value: raw, Err: errScheme}
	}

	return strings.TrimRight(raw, "/"), nil
}

func loadPaths(v *viper.Viper) install.Paths {
	get := func(env string) string {
		return strings.TrimSpace(v.GetString(strings.ToLower(env)))
	}

	return install.Paths{
		DestDir:                      get("DESTDIR"),
		Prefix:                       get("PREFIX"),
		EtcDir:                       get("ETCDIR"),
		LibexecDir:                   get("LIBEXECDIR"),
		LibexecCrioDir:               get("LIBEXEC_CRIO_DIR"),
		BinDir:                       get("BINDIR"),
		ManDir:                       get("MANDIR"),
		OCIDir:                       get("OCIDIR"),
		BashInstallDir:               get("BASHINSTALLDIR"),
		FishInstallDir:               get("FISHINSTALLDIR"),
		ZshInstallDir:                get("ZSHINSTALLDIR"),
		OptCNIBinDir:                 get("OPT_CNI_BIN_DIR"),
		CNIDir:                       get("CNIDIR"),
		ContainersDir:                get("CONTAINERS_DIR"),
		ContainersRegistriesConfDDir: get("CONTAINERS_REGISTRIES_CONFD_DIR"),
		SystemdDir:                   get("SYSTEMDDIR"),
		CrioConfD:                    get("CRIO_CONF_D"),
	}
}

// LogFields returns key-value pairs describing cfg for logging. The token
// is never included.
func (c *Config) LogFields() []any {
	return []any{
		"arch", c.Arch,
		"version", c.Version,
		"base_url", c.BaseURL(),
		"verify", string(c.Verify),
		"authenticated", c.Token != "",
		"max_pages", c.MaxPages,
	}
}

// String implements fmt.Stringer without exposing credentials.
func (c *Config) String() string {
	cp := *c
	if cp.Token != "" {
		cp.Token = redacted
	}
	return fmt.Sprintf("%+v", cp)
}
