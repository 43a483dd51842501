package bootstrap

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"pkt.systems/tenantgate/internal/appconfig"
	"pkt.systems/tenantgate/internal/version"
)

const (
	configName        = "config.yaml"
	containerConfig   = "config-for-container.yaml"
	composeName       = "docker-compose.yaml"
	envName           = ".env"
	containerStateDir = "/var/lib/tenantgate"
	containerConfDir  = "/etc/tenantgate"
	defaultImage      = "ghcr.io/pkt-systems/tenantgate"
)

// Files represents generated bootstrap artifacts.
type Files struct {
	ConfigYAML          []byte
	ContainerConfigYAML []byte
	ComposeYAML         []byte
	Env                 []byte
}

// Paths reports where bootstrap wrote its outputs.
type Paths struct {
	ConfigPath          string
	ContainerConfigPath string
	ComposePath         string
	EnvPath             string
	StateDir            string
}

type templateData struct {
	Image           string
	HostConfigPath  string
	HostStateDir    string
	ConfigFile      string
	ContainerConfig string
	ContainerState  string
	GatewayPort     string
	MockPort        string
}

var composeTemplate = template.Must(template.New("compose").Parse(`services:
  tenantgate:
    image: {{ .Image }}
    command: ["serve", "--with-mock", "-c", "{{ .ContainerConfig }}/{{ .ConfigFile }}"]
    env_file: .env
    ports:
      - "{{ .GatewayPort }}:{{ .GatewayPort }}"
      - "{{ .MockPort }}:{{ .MockPort }}"
    volumes:
      - {{ .HostConfigPath }}:{{ .ContainerConfig }}/{{ .ConfigFile }}:ro
      - {{ .HostStateDir }}:{{ .ContainerState }}
`))

// HostConfig returns the default config rooted at stateDir.
func HostConfig(stateDir string) (appconfig.Config, error) {
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		return appconfig.Config{}, err
	}
	cfg.StateDir = stateDir
	cfg.HTTP.PortalFile = filepath.Join(stateDir, "portals.json")
	cfg.Mock.DirectoryFile = filepath.Join(stateDir, "directory.json")
	return cfg, nil
}

// ContainerConfig returns the config used inside the container. Listeners bind all interfaces.
func ContainerConfig() (appconfig.Config, error) {
	cfg, err := HostConfig(containerStateDir)
	if err != nil {
		return appconfig.Config{}, err
	}
	cfg.HTTP.Addr = ":27480"
	cfg.Mock.Addr = ":27481"
	return cfg, nil
}

// DefaultFiles renders the bootstrap artifacts for outputDir.
func DefaultFiles(outputDir string) (Files, error) {
	rootDir, err := filepath.Abs(outputDir)
	if err != nil {
		rootDir = outputDir
	}
	stateDir := filepath.Join(rootDir, "state")
	hostCfg, err := HostConfig(stateDir)
	if err != nil {
		return Files{}, err
	}
	containerCfg, err := ContainerConfig()
	if err != nil {
		return Files{}, err
	}
	var files Files
	if files.ConfigYAML, err = yaml.Marshal(hostCfg); err != nil {
		return Files{}, err
	}
	if files.ContainerConfigYAML, err = yaml.Marshal(containerCfg); err != nil {
		return Files{}, err
	}
	if files.ComposeYAML, err = renderCompose(templateData{
		Image:           imageRef(),
		HostConfigPath:  filepath.Join(rootDir, containerConfig),
		HostStateDir:    stateDir,
		ConfigFile:      configName,
		ContainerConfig: containerConfDir,
		ContainerState:  containerStateDir,
		GatewayPort:     "27480",
		MockPort:        "27481",
	}); err != nil {
		return Files{}, err
	}
	files.Env = []byte(fmt.Sprintf("APP_ENV=local\nUID=%d\nGID=%d\n# TENANTGATE_BACKEND_BASE_URL=https://api.example.com\n", os.Getuid(), os.Getgid()))
	return files, nil
}

// WriteBootstrap writes the config, container config, compose file and .env to outputDir.
func WriteBootstrap(outputDir string, overwrite bool) (Paths, error) {
	files, err := DefaultFiles(outputDir)
	if err != nil {
		return Paths{}, err
	}
	paths := Paths{
		ConfigPath:          filepath.Join(outputDir, configName),
		ContainerConfigPath: filepath.Join(outputDir, containerConfig),
		ComposePath:         filepath.Join(outputDir, composeName),
		EnvPath:             filepath.Join(outputDir, envName),
		StateDir:            filepath.Join(outputDir, "state"),
	}
	targets := []struct {
		path string
		data []byte
	}{
		{paths.ConfigPath, files.ConfigYAML},
		{paths.ContainerConfigPath, files.ContainerConfigYAML},
		{paths.ComposePath, files.ComposeYAML},
		{paths.EnvPath, files.Env},
	}
	if !overwrite {
		for _, target := range targets {
			if _, err := os.Stat(target.path); err == nil {
				return Paths{}, fmt.Errorf("file already exists: %s", target.path)
			}
		}
	}
	if err := os.MkdirAll(paths.StateDir, 0o700); err != nil {
		return Paths{}, err
	}
	for _, target := range targets {
		if err := os.WriteFile(target.path, target.data, 0o600); err != nil {
			return Paths{}, err
		}
	}
	return paths, nil
}

func renderCompose(data templateData) ([]byte, error) {
	var buf bytes.Buffer
	if err := composeTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func imageRef() string {
	tag := version.Current()
	if tag == "" || strings.HasSuffix(tag, "-unknown") {
		tag = "latest"
	}
	return defaultImage + ":" + tag
}
