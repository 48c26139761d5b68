package pathguard

import "os"

// OSStat is the production Stat backed by the real filesystem.
func OSStat(path string) (isDir bool, exists bool, err error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, false, nil
		}
		return false, false, err
	}
	return fi.IsDir(), true, nil
}
