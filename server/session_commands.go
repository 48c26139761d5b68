package server

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gonzalop/minidrive/internal/apperr"
	"github.com/gonzalop/minidrive/internal/pathguard"
)

func (s *session) cmdList(arg string) error {
	full := s.resolve(arg)
	if _, err := s.verifyPath(full, pathguard.Directory, pathguard.MustExist); err != nil {
		return err
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return apperr.New(apperr.KindInternal, "list %s: %v", full, err)
	}

	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		if e.IsDir() {
			b.WriteString("[DIR]  ")
		} else {
			b.WriteString("       ")
		}
		b.WriteString(e.Name())
	}
	s.replyOK(b.String())
	return nil
}

func (s *session) cmdCD(arg string) error {
	if arg == "" {
		return apperr.New(apperr.KindNoPath, "CD command requires a path argument")
	}
	full := s.resolve(arg)
	canon, err := s.verifyPath(full, pathguard.Directory, pathguard.MustExist)
	if err != nil {
		return err
	}
	s.workingDirectory = canon
	s.replyOK("Changed directory to " + arg)
	return nil
}

func (s *session) cmdMkdir(arg string) error {
	if arg == "" {
		return apperr.New(apperr.KindNoPath, "MKDIR command requires a path argument")
	}
	full := s.resolve(arg)
	canon, err := s.verifyPath(full, pathguard.Directory, pathguard.MustNotExist)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(canon, 0o755); err != nil {
		return apperr.New(apperr.KindDirectoryCreateFail, "create %s: %v", canon, err)
	}
	s.replyOK("Created directory " + arg)
	return nil
}

func (s *session) cmdRmdir(arg string) error {
	if arg == "" {
		return apperr.New(apperr.KindNoPath, "RMDIR command requires a path argument")
	}
	full := s.resolve(arg)
	canon, err := s.verifyPath(full, pathguard.Directory, pathguard.MustExist)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(canon); err != nil {
		return apperr.New(apperr.KindInternal, "remove %s: %v", canon, err)
	}
	s.replyOK("Removed directory " + arg)
	return nil
}

func (s *session) cmdDelete(arg string) error {
	if arg == "" {
		return apperr.New(apperr.KindNoPath, "DELETE command requires a path argument")
	}
	full := s.resolve(arg)
	canon, err := s.verifyPath(full, pathguard.File, pathguard.MustExist)
	if err != nil {
		return err
	}
	if s.srv.locks.IsLocked(canon) {
		return apperr.New(apperr.KindFileInUse, "file is being downloaded: %s", arg)
	}
	if err := os.Remove(canon); err != nil {
		return apperr.New(apperr.KindInternal, "delete %s: %v", canon, err)
	}
	s.replyOK("Deleted file " + arg)
	return nil
}

func (s *session) cmdMove(src, dst string) error {
	if src == "" || dst == "" {
		return apperr.New(apperr.KindNoPath, "MOVE command requires source and destination path arguments")
	}
	fullSrc := s.resolve(src)
	fullDst := s.resolve(dst)

	canonSrc, err := s.verifyPath(fullSrc, pathguard.None, pathguard.MustExist)
	if err != nil {
		return err
	}
	if _, err := s.verifyPath(filepath.Dir(fullDst), pathguard.Directory, pathguard.MustExist); err != nil {
		return err
	}
	canonDst, err := s.verifyPath(fullDst, pathguard.None, pathguard.MustNotExist)
	if err != nil {
		return err
	}

	if err := os.Rename(canonSrc, canonDst); err != nil {
		return apperr.New(apperr.KindInternal, "move %s to %s: %v", src, dst, err)
	}
	s.replyOK(fmt.Sprintf("Moved %s to %s", src, dst))
	return nil
}

func (s *session) cmdCopy(src, dst string) error {
	if src == "" || dst == "" {
		return apperr.New(apperr.KindNoPath, "COPY command requires source and destination path arguments")
	}
	fullSrc := s.resolve(src)
	fullDst := s.resolve(dst)

	canonSrc, err := s.verifyPath(fullSrc, pathguard.None, pathguard.MustExist)
	if err != nil {
		return err
	}
	if _, err := s.verifyPath(filepath.Dir(fullDst), pathguard.None, pathguard.DontCare); err != nil {
		return err
	}
	canonDst, err := s.verifyPath(fullDst, pathguard.None, pathguard.MustNotExist)
	if err != nil {
		return err
	}

	if err := copyRecursive(canonSrc, canonDst); err != nil {
		return apperr.New(apperr.KindInternal, "copy %s to %s: %v", src, dst, err)
	}
	s.replyOK(fmt.Sprintf("Copied %s to %s", src, dst))
	return nil
}

// copyRecursive copies src to dst, recursing into directories.
func copyRecursive(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst, info.Mode())
	}

	if err := os.MkdirAll(dst, info.Mode()); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := copyRecursive(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	buf := make([]byte, 64*1024)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return rerr
		}
	}
}
