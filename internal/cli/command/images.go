package command

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/warmstart/internal/storage/image"
)

// ImagesCommand returns the images subcommand group.
func ImagesCommand() *cli.Command {
	return &cli.Command{
		Name:    "images",
		Aliases: []string{"image", "img"},
		Usage:   "Manage checkpoint images",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List images, oldest first",
				Action: imagesList,
			},
			{
				Name:      "inspect",
				Usage:     "Show one image",
				ArgsUsage: "[latest|<image-id>|<id-prefix>]",
				Action:    imagesInspect,
			},
			{
				Name:   "prune",
				Usage:  "Apply the retention policy (checkpoint.retention)",
				Action: imagesPrune,
			},
		},
	}
}

type imageView struct {
	ID         string    `json:"id" yaml:"id"`
	Phase      string    `json:"phase,omitempty" yaml:"phase,omitempty"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	Complete   bool      `json:"complete" yaml:"complete"`
	Generation int       `json:"generation" yaml:"generation"`
	Size       int64     `json:"size" yaml:"size"`
	Build      string    `json:"build,omitempty" yaml:"build,omitempty" table:"wide"`
	Host       string    `json:"host,omitempty" yaml:"host,omitempty" table:"wide"`
}

type imageDetail struct {
	ID          string             `json:"id" yaml:"id"`
	Phase       string             `json:"phase,omitempty" yaml:"phase,omitempty"`
	CreatedAt   time.Time          `json:"created_at" yaml:"created_at"`
	Complete    bool               `json:"complete" yaml:"complete"`
	Generation  int                `json:"generation" yaml:"generation"`
	Size        int64              `json:"size" yaml:"size"`
	Build       string             `json:"build,omitempty" yaml:"build,omitempty"`
	Host        string             `json:"host,omitempty" yaml:"host,omitempty"`
	Dir         string             `json:"dir" yaml:"dir"`
	Checksum    string             `json:"checksum" yaml:"checksum"`
	PID         int                `json:"pid" yaml:"pid"`
	FeatureHash string             `json:"feature_hash,omitempty" yaml:"feature_hash,omitempty"`
	CRIU        image.CRIUSettings `json:"criu" yaml:"criu"`
}

func newImageView(img *image.Image) imageView {
	v := imageView{ID: img.ID, Complete: img.Complete, Size: img.Size}
	if m := img.Manifest; m != nil {
		v.Phase = m.Phase
		v.CreatedAt = m.CreatedAt
		v.Build = m.Build
		v.Host = m.Host
	}
	v.Generation, _ = image.Generation(img)
	return v
}

func imagesList(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	images, err := e.images.List()
	if err != nil {
		return fmt.Errorf("list images: %w", err)
	}
	views := make([]imageView, 0, len(images))
	for _, img := range images {
		views = append(views, newImageView(img))
	}
	return e.print(views)
}

func imagesInspect(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	img, err := e.images.Resolve(c.Args().First())
	if err != nil {
		return err
	}
	v := newImageView(img)
	d := imageDetail{
		ID:         v.ID,
		Phase:      v.Phase,
		CreatedAt:  v.CreatedAt,
		Complete:   v.Complete,
		Generation: v.Generation,
		Size:       v.Size,
		Build:      v.Build,
		Host:       v.Host,
		Dir:        img.Dir,
		Checksum:   img.Checksum,
	}
	if m := img.Manifest; m != nil {
		d.PID = m.PID
		d.FeatureHash = m.FeatureHash
		d.CRIU = m.CRIU
	}
	return e.print(d)
}

type pruneView struct {
	Removed []string `json:"removed" yaml:"removed"`
	Kept    int      `json:"kept" yaml:"kept"`
}

func imagesPrune(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	removed, err := e.images.Prune()
	if err != nil {
		return fmt.Errorf("prune images: %w", err)
	}
	left, err := e.images.List()
	if err != nil {
		return err
	}
	return e.print(pruneView{Removed: removed, Kept: len(left)})
}
