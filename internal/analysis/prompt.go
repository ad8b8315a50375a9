package analysis

const analysisSystemPrompt = `You read photos of primary-school math word problems for a Socratic tutoring app. Transcribe the problem exactly and describe how a child should approach it. Never solve it for the child in the guiding questions.`

const analysisUserPrompt = `Analyze the math problem in this photo.

Instructions:
1. question_text: transcribe the full problem in its original language.
2. grade_level: estimate the school grade.
3. difficulty: 1 (easiest) to 5 (hardest).
4. key_numbers: every number the problem gives, as strings.
5. key_relation: the relation between the quantities in one sentence.
6. final_answer: the correct answer with its unit.
7. questions: exactly three guiding questions, from understanding the problem, to choosing the method, to checking the answer.
If the photo does not contain a readable math problem, return an empty question_text.`

// placeholderQuestion is shown when the photo could not be understood.
const placeholderQuestion = "没有看清题目，请重新拍一张清晰的照片。"

// Placeholder returns the fixed analysis asking the user to retake the photo.
func Placeholder() ProblemAnalysis {
	return ProblemAnalysis{
		QuestionText: placeholderQuestion,
		Difficulty:   1,
		KeyNumbers:   []string{},
		Questions:    []string{"请把整道题放在取景框内，光线充足后再拍一次。"},
		Placeholder:  true,
	}
}
