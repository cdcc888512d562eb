package namegen

import (
	"fmt"
	"os"
	"strings"

	vendor "github.com/anandvarma/namegen"
)

var gen = vendor.New()

// New returns a random human-friendly name, such as "brave-otter", used to
// tell cluster workers apart. The hostname prefixes it when it is known.
func New() string {
	name := gen.Get()
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return fmt.Sprintf("%s-%s", strings.SplitN(hostname, ".", 2)[0], name)
	}
	return name
}
