package archive

import "testing"

const sampleSltListing = `7-Zip 25.01 (x64) : Copyright (c) 1999-2025 Igor Pavlov : 2025-08-03
 64-bit locale=en_US.UTF-8 Threads:16 OPEN_MAX:1024, ASM

Scanning the drive for archives:
1 file, 25328783 bytes (25 MiB)

Listing archive: rclone-v1.71.1-linux-amd64.zip

--
Path = rclone-v1.71.1-linux-amd64.zip
Type = zip
Physical Size = 25328783

----------
Path = rclone-v1.71.1-linux-amd64
Folder = +
Size = 0

Path = rclone-v1.71.1-linux-amd64/rclone.1
Folder = -
Size = 2853244

Path = rclone-v1.71.1-linux-amd64/README.txt
Folder = -
Size = 2588508

Path = rclone-v1.71.1-linux-amd64/rclone
Folder = -
Size = 69161144
`

func TestParseSltListingFiltersDirectories(t *testing.T) {
	files := parseSltListing(sampleSltListing)

	for _, f := range files {
		if f == "rclone-v1.71.1-linux-amd64" {
			t.Fatalf("expected directory entry to be filtered out, got it in: %v", files)
		}
	}

	want := map[string]bool{
		"rclone-v1.71.1-linux-amd64/rclone.1":    true,
		"rclone-v1.71.1-linux-amd64/README.txt":  true,
		"rclone-v1.71.1-linux-amd64/rclone":      true,
	}
	if len(files) != len(want) {
		t.Fatalf("expected %d files, got %d: %v", len(want), len(files), files)
	}
	for _, f := range files {
		if !want[f] {
			t.Fatalf("unexpected file entry: %s", f)
		}
	}
}

func TestParseSltListingEmptyInput(t *testing.T) {
	if files := parseSltListing(""); len(files) != 0 {
		t.Fatalf("expected no files from empty listing, got %v", files)
	}
}
