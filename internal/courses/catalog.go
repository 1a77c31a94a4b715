package courses

// starterCatalog is inserted by SeedCatalog into an empty database.
var starterCatalog = []CourseInput{
	{
		Title:              "Complete React Tutorial for Beginners",
		Description:        "Learn React from scratch with this comprehensive tutorial. Perfect for beginners who want to build modern web applications.",
		Level:              LevelBeginner,
		Duration:           "3h 45m",
		Category:           "frontend",
		YouTubeVideoID:     "DLX62G4lc44",
		YouTubeChannelName: "freeCodeCamp.org",
		YouTubeVideoURL:    youtubeWatchURL + "DLX62G4lc44",
		ThumbnailURL:       youtubeThumbnailURL("DLX62G4lc44"),
		Enrolled:           15420,
	},
	{
		Title:              "Node.js & Express Backend Development",
		Description:        "Master backend development with Node.js and Express. Build RESTful APIs and learn server-side programming.",
		Level:              LevelIntermediate,
		Duration:           "4h 20m",
		Category:           "backend",
		YouTubeVideoID:     "fBNz5xF-Kx4",
		YouTubeChannelName: "Programming with Mosh",
		YouTubeVideoURL:    youtubeWatchURL + "fBNz5xF-Kx4",
		ThumbnailURL:       youtubeThumbnailURL("fBNz5xF-Kx4"),
		Enrolled:           8750,
	},
	{
		Title:              "Full Stack MERN App Development",
		Description:        "Build a complete full-stack application using MongoDB, Express, React, and Node.js. Deploy to production.",
		Level:              LevelAdvanced,
		Duration:           "6h 15m",
		Category:           "fullstack",
		YouTubeVideoID:     "ngc9gnuJeEY",
		YouTubeChannelName: "Traversy Media",
		YouTubeVideoURL:    youtubeWatchURL + "ngc9gnuJeEY",
		ThumbnailURL:       youtubeThumbnailURL("ngc9gnuJeEY"),
		Enrolled:           12340,
	},
	{
		Title:              "Machine Learning with Python",
		Description:        "Introduction to machine learning using Python. Learn algorithms, data preprocessing, and model evaluation.",
		Level:              LevelIntermediate,
		Duration:           "5h 30m",
		Category:           "ai",
		YouTubeVideoID:     "7eh4d6sabA0",
		YouTubeChannelName: "Python Engineer",
		YouTubeVideoURL:    youtubeWatchURL + "7eh4d6sabA0",
		ThumbnailURL:       youtubeThumbnailURL("7eh4d6sabA0"),
		Enrolled:           9680,
	},
	{
		Title:              "Blockchain Development Tutorial",
		Description:        "Learn blockchain development from basics to advanced. Build your first cryptocurrency and smart contracts.",
		Level:              LevelAdvanced,
		Duration:           "4h 50m",
		Category:           "blockchain",
		YouTubeVideoID:     "M576WGiDBdQ",
		YouTubeChannelName: "Dapp University",
		YouTubeVideoURL:    youtubeWatchURL + "M576WGiDBdQ",
		ThumbnailURL:       youtubeThumbnailURL("M576WGiDBdQ"),
		Enrolled:           6420,
	},
	{
		Title:              "Advanced JavaScript Concepts",
		Description:        "Deep dive into advanced JavaScript concepts including closures, prototypes, async programming, and more.",
		Level:              LevelAdvanced,
		Duration:           "3h 25m",
		Category:           "frontend",
		YouTubeVideoID:     "Mus_vwhTCq0",
		YouTubeChannelName: "JavaScript Mastery",
		YouTubeVideoURL:    youtubeWatchURL + "Mus_vwhTCq0",
		ThumbnailURL:       youtubeThumbnailURL("Mus_vwhTCq0"),
		Enrolled:           11250,
	},
	{
		Title:              "Python Django REST Framework",
		Description:        "Build powerful REST APIs with Django REST Framework. Perfect for backend developers.",
		Level:              LevelIntermediate,
		Duration:           "4h 10m",
		Category:           "backend",
		YouTubeVideoID:     "c708Nf0cHrs",
		YouTubeChannelName: "Very Academy",
		YouTubeVideoURL:    youtubeWatchURL + "c708Nf0cHrs",
		ThumbnailURL:       youtubeThumbnailURL("c708Nf0cHrs"),
		Enrolled:           7890,
	},
	{
		Title:              "AI Chatbot Development",
		Description:        "Create intelligent chatbots using natural language processing and machine learning techniques.",
		Level:              LevelAdvanced,
		Duration:           "3h 40m",
		Category:           "ai",
		YouTubeVideoID:     "RuVac3VdNYE",
		YouTubeChannelName: "Tech With Tim",
		YouTubeVideoURL:    youtubeWatchURL + "RuVac3VdNYE",
		ThumbnailURL:       youtubeThumbnailURL("RuVac3VdNYE"),
		Enrolled:           5640,
	},
}

const youtubeWatchURL = "https://www.youtube.com/watch?v="

func youtubeThumbnailURL(videoID string) string {
	return "https://img.youtube.com/vi/" + videoID + "/maxresdefault.jpg"
}
