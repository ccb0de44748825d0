package sandbox

import (
	"bytes"
	"fmt"
	"os"
)

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// validateExecutable checks that path exists, is a regular file, and
// begins with either an ELF header or a "#!" interpreter line (spec.md
// §4.E "executable path (validated to be a file with a recognizable
// header)").
func validateExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("sandbox: %s is not a regular file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var head [4]byte
	n, _ := f.Read(head[:])
	if n >= 4 && bytes.Equal(head[:4], elfMagic) {
		return nil
	}
	if n >= 2 && head[0] == '#' && head[1] == '!' {
		return nil
	}
	return fmt.Errorf("sandbox: %s has no recognizable executable header", path)
}
