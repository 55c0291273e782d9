package dockerapi

// CreateConfig holds the container creation parameters this module needs.
// Field names mirror the Engine API request body.
type CreateConfig struct {
	Name       string
	Image      string
	Cmd        []string
	Env        []string
	WorkingDir string
	User       string
	OpenStdin  bool
	StdinOnce  bool
	TTY        bool
	Binds      []string
}

type createRequest struct {
	Image      string          `json:"Image"`
	Cmd        []string        `json:"Cmd,omitempty"`
	Env        []string        `json:"Env,omitempty"`
	WorkingDir string          `json:"WorkingDir,omitempty"`
	User       string          `json:"User,omitempty"`
	OpenStdin  bool            `json:"OpenStdin"`
	StdinOnce  bool            `json:"StdinOnce"`
	Tty        bool            `json:"Tty"`
	HostConfig createHostBlock `json:"HostConfig"`
}

type createHostBlock struct {
	Binds []string `json:"Binds,omitempty"`
}

type createResponse struct {
	ID       string   `json:"Id"`
	Warnings []string `json:"Warnings,omitempty"`
}

// ContainerDetail is the subset of the inspect response this module reads.
type ContainerDetail struct {
	ID    string         `json:"Id"`
	State ContainerState `json:"State"`
}

type ContainerState struct {
	Status   string `json:"Status"`
	Running  bool   `json:"Running"`
	ExitCode int    `json:"ExitCode"`
}

type waitResponse struct {
	StatusCode int        `json:"StatusCode"`
	Error      *waitError `json:"Error,omitempty"`
}

type waitError struct {
	Message string `json:"Message"`
}

type apiError struct {
	Message string `json:"message"`
}

// AttachOptions selects which streams an attach request follows.
type AttachOptions struct {
	Stream bool
	Stdin  bool
	Stdout bool
	Stderr bool
}
