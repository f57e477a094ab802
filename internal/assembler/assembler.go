package assembler

import (
	"bytes"
	"context"
	"crypto"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"

	"github.com/oshokin/rkflash/internal/archive"
	"github.com/oshokin/rkflash/internal/catalog"
	"github.com/oshokin/rkflash/internal/domain/flash"
	"github.com/oshokin/rkflash/internal/fsutil"
	"github.com/oshokin/rkflash/internal/logger"
	"github.com/oshokin/rkflash/internal/mount"
	"github.com/oshokin/rkflash/internal/tool"
)

// Artifact file names inside the artifacts directory.
const (
	BaseImageName     = "rootfs.img"
	CommonPackageName = "update-rootfs.tar.gz"
	LoaderName        = "loader.bin"
	ParameterName     = "parameter.txt"
	UBootName         = "uboot.img"
	BootName          = "boot.img"
)

// Paths inside the release archive and the image.
const (
	// commonTreeDir is the top-level directory of the common update package.
	commonTreeDir = "update-rootfs"
	// releaseTarball is the nested filesystem tarball of a board tree.
	releaseTarball = "filesystem.tar.gz"
	// releaseTreeDir is what releaseTarball unpacks to.
	releaseTreeDir = "filesystem"

	binaryDir       = "mnt/build"
	hostnameFile    = "etc/hostname"
	boardTypeFile   = "mnt/config/boardtype"
	initScript      = "etc/rc.local"
	credentialsDir  = "root/.ssh"
	binaryExtension = ".bin"
)

// Modes enforced inside the image.
const (
	InitScriptMode      fs.FileMode = 0o755
	CredentialsFileMode fs.FileMode = 0o600
	CredentialsDirMode  fs.FileMode = 0o700
	ConfigFileMode      fs.FileMode = 0o644
	BinaryMode          fs.FileMode = 0o755

	workspaceMode fs.FileMode = 0o755
)

// lockRetryDelay is how often a blocked assembly re-tries the cache lock.
const lockRetryDelay = 100 * time.Millisecond

// CommonOverlayDirs are overlaid from the common update package.
func CommonOverlayDirs() []string {
	return []string{"etc", "root"}
}

// Options configure an Assembler.
type Options struct {
	// ArtifactsDir holds the base image, the common package and boot files.
	ArtifactsDir string
	// ReleaseDir holds the <version>.zip release archives.
	ReleaseDir string
	// WorkspaceDir receives the published images and scratch workspaces.
	WorkspaceDir string
	// Boards resolves board names to release sub-paths.
	Boards flash.BoardTable
	// Mounter attaches the workspace image.
	Mounter mount.Mounter
}

// Assembler builds flash images. It is safe for concurrent use; concurrent
// builds of the same key are serialized by a file lock.
type Assembler struct {
	artifactsDir string
	releaseDir   string
	workspaceDir string
	boards       flash.BoardTable
	mounter      mount.Mounter
}

// New creates an Assembler.
func New(opts Options) *Assembler {
	boards := opts.Boards
	if boards == nil {
		boards = flash.DefaultBoards()
	}

	mounter := opts.Mounter
	if mounter == nil {
		mounter = mount.NewLoop()
	}

	return &Assembler{
		artifactsDir: opts.ArtifactsDir,
		releaseDir:   opts.ReleaseDir,
		workspaceDir: opts.WorkspaceDir,
		boards:       boards,
		mounter:      mounter,
	}
}

// ImagePath returns the published image path of a version and board.
func (a *Assembler) ImagePath(version string, board flash.BoardType) string {
	return filepath.Join(a.workspaceDir, imageKey(version, board)+".img")
}

// Artifacts returns the flashing artifacts with rootfs as the root image.
func (a *Assembler) Artifacts(rootfs string) tool.Artifacts {
	return tool.Artifacts{
		Loader:    filepath.Join(a.artifactsDir, LoaderName),
		Parameter: filepath.Join(a.artifactsDir, ParameterName),
		UBoot:     filepath.Join(a.artifactsDir, UBootName),
		Boot:      filepath.Join(a.artifactsDir, BootName),
		RootFS:    rootfs,
	}
}

func imageKey(version string, board flash.BoardType) string {
	return fmt.Sprintf("rootfs-%s-%s", version, board)
}

// Assemble returns the image for version and board, building it when it
// has not been published yet.
func (a *Assembler) Assemble(ctx context.Context, version string, board flash.BoardType) (string, error) {
	ctx = logger.WithKV(ctx, "version", version, "board", board)

	profile, err := a.boards.Lookup(board)
	if err != nil {
		return "", err
	}

	target := a.ImagePath(version, board)
	if fsutil.Exists(target) {
		logger.InfoKV(ctx, "Image already assembled", "path", target)

		return target, nil
	}

	if !catalog.Has(a.releaseDir, version) {
		return "", &NotFoundError{Version: version, Path: catalog.ArchivePath(a.releaseDir, version)}
	}

	if err = os.MkdirAll(a.workspaceDir, workspaceMode); err != nil {
		return "", ioError(a.workspaceDir, err)
	}

	lock := flock.New(filepath.Join(a.workspaceDir, imageKey(version, board)+".lock"))

	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return "", ioError(lock.Path(), err)
	}

	if !locked {
		return "", ioError(lock.Path(), ctx.Err())
	}

	defer func() {
		_ = lock.Unlock()
	}()

	// Another process may have published the image while we waited.
	if fsutil.Exists(target) {
		logger.InfoKV(ctx, "Image assembled concurrently", "path", target)

		return target, nil
	}

	logger.InfoKV(ctx, "Assembling image", "path", target)

	started := time.Now()

	if err = a.build(ctx, profile, version, target); err != nil {
		logger.ErrorKV(ctx, "Image assembly failed", "error", err)

		return "", err
	}

	logger.InfoKV(ctx, "Image assembled", "path", target, "elapsed", time.Since(started).Round(time.Millisecond))

	return target, nil
}

// build runs one assembly inside a fresh workspace and publishes the result.
func (a *Assembler) build(ctx context.Context, profile flash.Profile, version, target string) error {
	work, err := os.MkdirTemp(a.workspaceDir, "assemble-")
	if err != nil {
		return ioError(a.workspaceDir, err)
	}

	keepWorkspace := false

	defer func() {
		if keepWorkspace {
			logger.WarnKV(ctx, "Workspace left in place, image may still be mounted", "workspace", work)

			return
		}

		if removeErr := os.RemoveAll(work); removeErr != nil {
			logger.WarnKV(ctx, "Failed to remove workspace", "workspace", work, "error", removeErr)
		}
	}()

	image := filepath.Join(work, BaseImageName)

	base := filepath.Join(a.artifactsDir, BaseImageName)
	if err = fsutil.CopyFile(base, image); err != nil {
		return ioError(base, err)
	}

	if err = a.populateMounted(ctx, profile, version, work, image); err != nil {
		var mountErr *MountError
		if errors.As(err, &mountErr) && mountErr.Op == OpUnmount {
			keepWorkspace = true
		}

		return err
	}

	if err = atomic.ReplaceFile(image, target); err != nil {
		return ioError(target, err)
	}

	return nil
}

// populateMounted mounts image, fills it and always unmounts it again.
func (a *Assembler) populateMounted(
	ctx context.Context,
	profile flash.Profile,
	version, work, image string,
) (err error) {
	mountDir := filepath.Join(work, "rootfs")
	if err = os.Mkdir(mountDir, workspaceMode); err != nil {
		return ioError(mountDir, err)
	}

	if err = a.mounter.Mount(ctx, image, mountDir); err != nil {
		return &MountError{Op: OpMount, Target: mountDir, Err: err}
	}

	defer func() {
		// Unmount even when ctx is already cancelled.
		unmountErr := a.mounter.Unmount(context.WithoutCancel(ctx), mountDir)
		if unmountErr != nil {
			err = errors.Join(err, &MountError{Op: OpUnmount, Target: mountDir, Err: unmountErr})
		}
	}()

	return a.populate(ctx, profile, version, work, mountDir)
}

func (a *Assembler) populate(ctx context.Context, profile flash.Profile, version, work, root string) error {
	if err := a.overlayCommon(ctx, work, root); err != nil {
		return err
	}

	versionRoot, err := a.extractRelease(ctx, version, work)
	if err != nil {
		return err
	}

	if err = overlayRelease(ctx, profile, versionRoot, root); err != nil {
		return err
	}

	if err = installBinary(ctx, profile, versionRoot, root); err != nil {
		return err
	}

	for _, name := range []string{hostnameFile, boardTypeFile} {
		if err = writeConfigFile(root, name, string(profile.Name)); err != nil {
			return err
		}
	}

	return normalizePermissions(ctx, root)
}

func (a *Assembler) overlayCommon(ctx context.Context, work, root string) error {
	src := filepath.Join(a.artifactsDir, CommonPackageName)
	scratch := filepath.Join(work, "common")

	if err := archive.ExtractTar(src, scratch); err != nil {
		return ioError(src, err)
	}

	tree := filepath.Join(scratch, commonTreeDir)
	if !fsutil.Exists(tree) {
		tree = scratch
	}

	return overlay(ctx, tree, root, CommonOverlayDirs())
}

// extractRelease unpacks the release archive and returns its version root.
func (a *Assembler) extractRelease(ctx context.Context, version, work string) (string, error) {
	src := catalog.ArchivePath(a.releaseDir, version)
	scratch := filepath.Join(work, "release")

	if err := archive.ExtractZip(src, scratch); err != nil {
		return "", ioError(src, err)
	}

	versionRoot := filepath.Join(scratch, version)
	if !fsutil.Exists(versionRoot) {
		logger.DebugKV(ctx, "Release archive has no version directory", "archive", src)

		versionRoot = scratch
	}

	return versionRoot, nil
}

func overlayRelease(ctx context.Context, profile flash.Profile, versionRoot, root string) error {
	treeDir := filepath.Join(versionRoot, profile.TreeDir)
	tarball := filepath.Join(treeDir, releaseTarball)
	tree := filepath.Join(treeDir, releaseTreeDir)

	switch {
	case fsutil.Exists(tarball):
		if err := archive.ExtractTar(tarball, treeDir); err != nil {
			return ioError(tarball, err)
		}
	case fsutil.Exists(tree):
		logger.DebugKV(ctx, "Release tree already unpacked", "path", tree)
	default:
		return &IOError{Path: tarball, Err: os.ErrNotExist}
	}

	return overlay(ctx, tree, root, profile.OverlayDirs)
}

func overlay(ctx context.Context, src, dst string, dirs []string) error {
	skipped, err := fsutil.Overlay(src, dst, dirs)
	if err != nil {
		return ioError(src, err)
	}

	if len(skipped) > 0 {
		logger.DebugKV(ctx, "Overlay directories missing, skipped", "source", src, "dirs", strings.Join(skipped, ","))
	}

	return nil
}

// installBinary places <board>.bin into the image, verifying the copy.
func installBinary(ctx context.Context, profile flash.Profile, versionRoot, root string) error {
	name := string(profile.Name) + binaryExtension
	src := filepath.Join(versionRoot, profile.BinaryDir, name)

	data, err := os.ReadFile(filepath.Clean(src))
	if err != nil {
		return ioError(src, err)
	}

	dir, err := fsutil.EnsureDir(root, binaryDir, workspaceMode)
	if err != nil {
		return ioError(filepath.Join(root, binaryDir), err)
	}

	dst := filepath.Join(dir, name)

	// Apply swaps files by renaming the existing target aside first.
	placeholder, err := fsutil.CreateFile(dst, BinaryMode)
	if err != nil {
		return ioError(dst, err)
	}

	if err = placeholder.Close(); err != nil {
		return ioError(dst, err)
	}

	checksum := sha256.Sum256(data)

	err = goupdate.Apply(bytes.NewReader(data), goupdate.Options{
		TargetPath: dst,
		TargetMode: BinaryMode,
		Checksum:   checksum[:],
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return ioError(dst, err)
	}

	if err = os.Chmod(dst, BinaryMode); err != nil {
		return ioError(dst, err)
	}

	logger.DebugKV(ctx, "Board binary installed", "path", dst, "size", len(data))

	return nil
}

func writeConfigFile(root, name, content string) error {
	dir, err := fsutil.EnsureDir(root, filepath.Dir(name), workspaceMode)
	if err != nil {
		return ioError(filepath.Join(root, name), err)
	}

	// The rename inside WriteFile replaces a symlink instead of following it.
	path := filepath.Join(dir, filepath.Base(name))

	if err = atomic.WriteFile(path, strings.NewReader(content)); err != nil {
		return ioError(path, err)
	}

	if err = os.Chmod(path, ConfigFileMode); err != nil {
		return ioError(path, err)
	}

	return nil
}

func normalizePermissions(ctx context.Context, root string) error {
	script, ok, err := imagePath(ctx, root, initScript)
	if err != nil {
		return err
	}

	switch {
	case !ok:
	case fsutil.Exists(script):
		if err = os.Chmod(script, InitScriptMode); err != nil {
			return ioError(script, err)
		}
	default:
		logger.WarnKV(ctx, "Init script not found", "path", script)
	}

	credentials, ok, err := imagePath(ctx, root, credentialsDir)
	if err != nil || !ok {
		return err
	}

	if !fsutil.Exists(credentials) {
		logger.WarnKV(ctx, "Credentials directory not found", "path", credentials)

		return nil
	}

	if err = fsutil.ForceMode(credentials, CredentialsFileMode, CredentialsDirMode); err != nil {
		return ioError(credentials, err)
	}

	return nil
}

// imagePath resolves rel inside the mounted image. Paths running through a
// symlink point outside the image as far as the host is concerned; they are
// reported and skipped.
func imagePath(ctx context.Context, root, rel string) (string, bool, error) {
	path, err := fsutil.Lookup(root, rel)

	switch {
	case errors.Is(err, fsutil.ErrLinkedPath):
		logger.WarnKV(ctx, "Path in image is a symbolic link, skipped", "path", filepath.Join(root, rel))

		return "", false, nil
	case err != nil:
		return "", false, ioError(filepath.Join(root, rel), err)
	}

	return path, true, nil
}
